// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const testSecret = "whsec_test"

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func payload(typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","type":%q,"data":{"object":%s}}`, typ, object))
}

func TestParseVariants(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want Event
	}{
		{
			name: "checkout with tier",
			in:   payload(TypeCheckoutCompleted, `{"customer":"cus_1","subscription":"sub_1","client_reference_id":"alice","metadata":{"tier":"enterprise"}}`),
			want: CheckoutCompleted{meta: meta{EventID: "evt_1", Customer: "cus_1"}, Subscription: "sub_1", Tier: "enterprise", ClientReference: "alice"},
		},
		{
			name: "checkout defaults to pro",
			in:   payload(TypeCheckoutCompleted, `{"customer":"cus_1","subscription":"sub_1"}`),
			want: CheckoutCompleted{meta: meta{EventID: "evt_1", Customer: "cus_1"}, Subscription: "sub_1", Tier: "pro"},
		},
		{
			name: "invoice paid",
			in:   payload(TypeInvoicePaid, `{"customer":"cus_1","subscription":"sub_2"}`),
			want: InvoicePaid{meta: meta{EventID: "evt_1", Customer: "cus_1"}, Subscription: "sub_2"},
		},
		{
			name: "invoice failed",
			in:   payload(TypeInvoiceFailed, `{"customer":"cus_1"}`),
			want: InvoiceFailed{meta: meta{EventID: "evt_1", Customer: "cus_1"}},
		},
		{
			name: "subscription updated",
			in:   payload(TypeSubscriptionUpdated, `{"id":"sub_1","customer":"cus_1","status":"active","cancel_at_period_end":true}`),
			want: SubscriptionUpdated{meta: meta{EventID: "evt_1", Customer: "cus_1"}, Subscription: "sub_1", Status: "active", CancelAtPeriodEnd: true},
		},
		{
			name: "subscription deleted",
			in:   payload(TypeSubscriptionDeleted, `{"id":"sub_1","customer":"cus_1"}`),
			want: SubscriptionDeleted{meta: meta{EventID: "evt_1", Customer: "cus_1"}, Subscription: "sub_1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "cus_1", got.CustomerRef())
		})
	}
}

func TestParseRejects(t *testing.T) {
	_, err := Parse(payload("charge.refunded", `{"customer":"cus_1"}`))
	assert.ErrorIs(t, err, ErrUnsupportedEvent)

	_, err = Parse([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Parse(payload(TypeInvoicePaid, `{"subscription":"sub_1"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Parse(payload(TypeSubscriptionUpdated, `{"customer":"cus_1"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Parse([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestVerifySignature(t *testing.T) {
	body := payload(TypeInvoiceFailed, `{"customer":"cus_1"}`)
	good := Sign(body, testSecret, testNow)

	assert.NoError(t, VerifySignature(body, good, testSecret, DefaultTolerance, testNow))
	assert.NoError(t, VerifySignature(body, good+",v1=deadbeef", testSecret, DefaultTolerance, testNow))

	cases := map[string]struct {
		body   []byte
		header string
		secret string
		now    time.Time
	}{
		"missing header":  {body, "", testSecret, testNow},
		"no secret":       {body, good, "", testNow},
		"malformed":       {body, "garbage", testSecret, testNow},
		"bad timestamp":   {body, "t=abc,v1=00", testSecret, testNow},
		"wrong secret":    {body, Sign(body, "other", testNow), testSecret, testNow},
		"tampered body":   {append(append([]byte(nil), body...), ' '), good, testSecret, testNow},
		"expired":         {body, good, testSecret, testNow.Add(10 * time.Minute)},
		"from the future": {body, good, testSecret, testNow.Add(-10 * time.Minute)},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			err := VerifySignature(c.body, c.header, c.secret, DefaultTolerance, c.now)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}

	// Tolerance disabled.
	assert.NoError(t, VerifySignature(body, good, testSecret, 0, testNow.Add(24*time.Hour)))
}

type recordingHandler struct {
	seen []Event
	err  func(Event) error
}

func (h *recordingHandler) Handle(_ context.Context, ev Event) error {
	h.seen = append(h.seen, ev)
	if h.err != nil {
		return h.err(ev)
	}
	return nil
}

func newTestProcessor(h Handler) *Processor {
	p := NewProcessor(testSecret, h)
	p.Now = func() time.Time { return testNow }
	return p
}

func signed(body []byte) Delivery {
	return Delivery{Payload: body, Signature: Sign(body, testSecret, testNow)}
}

func TestProcessInvalidSignatureNeverReachesHandler(t *testing.T) {
	h := &recordingHandler{}
	p := newTestProcessor(h)

	body := payload(TypeSubscriptionDeleted, `{"id":"sub_1","customer":"cus_1"}`)
	res := p.Process(context.Background(), Delivery{Payload: body, Signature: Sign(body, "forged", testNow)})

	assert.Equal(t, StatusInvalidSignature, res.Status)
	assert.False(t, res.Accepted())
	assert.Empty(t, h.seen)
}

func TestProcessBatchContinuesPastFailures(t *testing.T) {
	h := &recordingHandler{err: func(ev Event) error {
		switch ev.CustomerRef() {
		case "cus_ghost":
			return fmt.Errorf("lookup %s: %w", ev.CustomerRef(), ErrUnknownCustomer)
		case "cus_broken":
			return errors.New("disk full")
		}
		return nil
	}}
	p := newTestProcessor(h)

	forged := payload(TypeInvoicePaid, `{"customer":"cus_1"}`)
	batch := []Delivery{
		{Payload: forged, Signature: "t=1,v1=00"},
		signed(payload(TypeInvoicePaid, `{"customer":"cus_ghost"}`)),
		signed(payload("customer.created", `{"customer":"cus_1"}`)),
		signed([]byte(`{"type":`)),
		signed(payload(TypeInvoiceFailed, `{"customer":"cus_broken"}`)),
		signed(payload(TypeCheckoutCompleted, `{"customer":"cus_1","subscription":"sub_1"}`)),
	}

	results := p.ProcessBatch(context.Background(), batch)
	require.Len(t, results, len(batch))

	got := make([]Status, len(results))
	for i, r := range results {
		got[i] = r.Status
	}
	assert.Equal(t, []Status{
		StatusInvalidSignature,
		StatusUnknownCustomer,
		StatusIgnored,
		StatusMalformed,
		StatusFailed,
		StatusApplied,
	}, got)

	assert.True(t, results[1].Accepted())
	assert.Equal(t, "cus_ghost", results[1].Customer)
	assert.Len(t, h.seen, 3)
}

func TestResultAccepted(t *testing.T) {
	tests := map[Status]bool{
		StatusApplied:          true,
		StatusIgnored:          true,
		StatusUnknownCustomer:  true,
		StatusInvalidSignature: false,
		StatusMalformed:        false,
		StatusFailed:           false,
	}
	for status, want := range tests {
		t.Run(string(status), func(t *testing.T) {
			assert.Equal(t, want, Result{Status: status}.Accepted())
		})
	}
}

func TestProcessBatchCanceledContext(t *testing.T) {
	h := &recordingHandler{}
	p := newTestProcessor(h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := p.ProcessBatch(ctx, []Delivery{signed(payload(TypeInvoicePaid, `{"customer":"cus_1"}`))})
	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Empty(t, h.seen)
}

func TestProcessBatchPacedByLimiter(t *testing.T) {
	h := &recordingHandler{}
	p := newTestProcessor(h)
	p.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	results := p.ProcessBatch(ctx, []Delivery{
		signed(payload(TypeInvoicePaid, `{"customer":"cus_1"}`)),
		signed(payload(TypeInvoicePaid, `{"customer":"cus_2"}`)),
	})
	require.Len(t, results, 2)
	assert.Equal(t, StatusApplied, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status, "second delivery cannot get a token before the deadline")
	assert.Len(t, h.seen, 1)
}
