// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"strconv"
	"strings"
)

const masked = "***"

var sensitiveKeywords = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Redacted returns a copy of cfg that is safe to print. API keys keep only
// their principal ids.
func Redacted(cfg AppConfig) AppConfig {
	out := cfg.clone()
	if out.Billing.WebhookSecret != "" {
		out.Billing.WebhookSecret = masked
	}
	if out.Billing.APIKey != "" {
		out.Billing.APIKey = masked
	}
	if out.Ledger.Redis.Password != "" {
		out.Ledger.Redis.Password = masked
	}
	keys := make(map[string]string, len(out.Auth.APIKeys))
	for i, principal := range sortedValues(out.Auth.APIKeys) {
		keys[masked+strconv.Itoa(i+1)] = principal
	}
	out.Auth.APIKeys = keys
	return out
}
