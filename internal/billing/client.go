// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultClientTimeout = 10 * time.Second
	maxResponseBytes     = 1 << 20
)

// ErrClientDisabled is returned when no provider API is configured.
var ErrClientDisabled = errors.New("billing: provider API not configured")

// Subscription is the provider's view of a subscription after a change.
type Subscription struct {
	ID                string
	Customer          string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
}

// Client changes subscriptions at the payment provider. Resulting state
// changes also arrive later as webhook deliveries.
type Client interface {
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, cancel bool) (Subscription, error)
	Reactivate(ctx context.Context, subscriptionRef string) (Subscription, error)
}

// APIError is a non-2xx reply from the provider.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("billing: provider returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("billing: provider returned HTTP %d: %s", e.StatusCode, e.Message)
}

// ClientConfig configures HTTPClient.
type ClientConfig struct {
	// BaseURL is the provider API root, e.g. https://api.stripe.com.
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient speaks the provider's form-encoded REST API:
// POST {BaseURL}/v1/subscriptions/{id} with cancel_at_period_end.
type HTTPClient struct {
	base   *url.URL
	apiKey string
	http   *http.Client
}

// NewHTTPClient validates cfg and builds a client with bounded timeouts.
func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, ErrClientDisabled
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("billing: api base: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("billing: api base %q must be http or https", cfg.BaseURL)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("billing: api key is required")
	}
	return &HTTPClient{base: base, apiKey: cfg.APIKey, http: newHTTPClient(cfg.Timeout)}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	dialTimeout := min(timeout, 3*time.Second)
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(&http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          8,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   dialTimeout,
			ResponseHeaderTimeout: timeout,
		}),
	}
}

func (c *HTTPClient) SetCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, cancel bool) (Subscription, error) {
	if subscriptionRef == "" {
		return Subscription{}, errors.New("billing: subscription reference is required")
	}
	form := url.Values{"cancel_at_period_end": {strconv.FormatBool(cancel)}}
	return c.modify(ctx, subscriptionRef, form)
}

func (c *HTTPClient) Reactivate(ctx context.Context, subscriptionRef string) (Subscription, error) {
	return c.SetCancelAtPeriodEnd(ctx, subscriptionRef, false)
}

type subscriptionBody struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) modify(ctx context.Context, ref string, form url.Values) (Subscription, error) {
	endpoint := c.base.JoinPath("v1", "subscriptions", url.PathEscape(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return Subscription{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Subscription{}, fmt.Errorf("billing: modify subscription: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Subscription{}, fmt.Errorf("billing: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			apiErr.Type = eb.Error.Type
			apiErr.Message = eb.Error.Message
		}
		return Subscription{}, apiErr
	}

	var body subscriptionBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return Subscription{}, fmt.Errorf("billing: decode subscription: %w", err)
	}
	sub := Subscription{
		ID:                body.ID,
		Customer:          body.Customer,
		Status:            body.Status,
		CancelAtPeriodEnd: body.CancelAtPeriodEnd,
	}
	if body.CurrentPeriodEnd > 0 {
		sub.CurrentPeriodEnd = time.Unix(body.CurrentPeriodEnd, 0).UTC()
	}
	return sub, nil
}
