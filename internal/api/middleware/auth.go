// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"

	"github.com/ManuGH/cargoforge/internal/api/problem"
	"github.com/ManuGH/cargoforge/internal/auth"
	"github.com/ManuGH/cargoforge/internal/log"
)

// RequireAPIKey resolves the caller's API key to a principal id and stores it
// in the request context. keyring is consulted per request so reloads apply
// immediately.
func RequireAPIKey(keyring func() *auth.Keyring) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := log.WithComponentFromContext(r.Context(), "auth")

			token := auth.ExtractToken(r)
			if token == "" {
				logger.Warn().Str(log.FieldEvent, "auth.missing_key").Msg("api key missing")
				unauthorized(w, r)
				return
			}
			id, ok := keyring().Resolve(token)
			if !ok {
				logger.Warn().Str(log.FieldEvent, "auth.invalid_key").Msg("invalid api key")
				unauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="cargoforge"`)
	problem.Write(w, r, http.StatusUnauthorized, "auth/unauthenticated", "Unauthorized", "UNAUTHORIZED",
		auth.ErrUnauthenticated.Error(), nil)
}
