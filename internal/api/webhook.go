// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ManuGH/cargoforge/internal/billing"
)

type webhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

// handleBillingWebhook verifies and applies one provider delivery. Unknown
// customers and unsupported event types are acknowledged so the provider
// stops retrying them.
func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.deps.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, "request/too_large", "Request Too Large", "BODY_TOO_LARGE", "", nil)
			return
		}
		writeProblem(w, r, http.StatusBadRequest, "request/unreadable", "Unreadable Body", "BAD_BODY", err.Error(), nil)
		return
	}

	res := s.deps.Billing.Process(r.Context(), billing.Delivery{
		Payload:   body,
		Signature: r.Header.Get(billing.SignatureHeader),
	})

	if res.Accepted() {
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Status: string(res.Status)})
		return
	}
	switch res.Status {
	case billing.StatusInvalidSignature:
		writeProblem(w, r, http.StatusBadRequest, "billing/invalid_signature", "Invalid Signature", "INVALID_SIGNATURE", "", nil)
	case billing.StatusMalformed:
		writeProblem(w, r, http.StatusBadRequest, "billing/malformed_event", "Malformed Event", "MALFORMED_EVENT", errDetail(res.Err), nil)
	default:
		writeProblem(w, r, http.StatusInternalServerError, "billing/handler_failed", "Event Not Applied", "EVENT_FAILED", "", nil)
	}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
