package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/iahome/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

var fixedNow = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"charge.succeeded","data":{"object":{}}}`)

	adapter := New(secret, DefaultTolerance)
	reqHeader := http.Header{}
	now := time.Now()

	reqHeader.Set("Stripe-Signature", signatureHeader(secret, payload, now))
	require.NoError(t, adapter.Verify(context.Background(), payload, reqHeader))

	reqHeader.Set("Stripe-Signature", signatureHeader("wrong", payload, now))
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, reqHeader), paymentdomain.ErrInvalidSignature)

	stale := signatureHeader(secret, payload, now.Add(-time.Hour))
	reqHeader.Set("Stripe-Signature", stale)
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, reqHeader), paymentdomain.ErrInvalidSignature)

	// Tolerance disabled accepts old deliveries.
	require.NoError(t, New(secret, 0).Verify(context.Background(), payload, reqHeader))

	reqHeader.Del("Stripe-Signature")
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, reqHeader), paymentdomain.ErrInvalidSignature)

	unconfigured := New("", DefaultTolerance)
	assert.ErrorIs(t, unconfigured.Verify(context.Background(), payload, reqHeader), paymentdomain.ErrWebhookSecretMissing)
}

func TestParseCheckoutVariants(t *testing.T) {
	adapter := New("whsec_test", 0)

	tests := []struct {
		name    string
		session map[string]any
		kind    paymentdomain.CheckoutKind
		tokens  int64
		userID  string
		email   string
	}{{
		name: "subscription",
		session: map[string]any{
			"id":           "cs_sub",
			"mode":         "subscription",
			"subscription": "sub_1",
			"metadata":     map[string]any{"userId": "u-1", "tokens": "3000", "packageType": "subscription_monthly"},
		},
		kind:   paymentdomain.CheckoutSubscription,
		tokens: 3000,
		userID: "u-1",
	}, {
		name: "token purchase with snake case metadata",
		session: map[string]any{
			"id":               "cs_tok",
			"mode":             "payment",
			"customer_details": map[string]any{"email": "buyer@example.com"},
			"metadata":         map[string]any{"user_id": "u-2", "tokens": "500", "package_type": "basic"},
		},
		kind:   paymentdomain.CheckoutTokenPurchase,
		tokens: 500,
		userID: "u-2",
		email:  "buyer@example.com",
	}, {
		name: "module purchase",
		session: map[string]any{
			"id":                  "cs_mod",
			"mode":                "payment",
			"client_reference_id": "u-3",
			"payment_intent":      map[string]any{"id": "pi_9"},
			"metadata":            map[string]any{"moduleId": "librespeed", "moduleName": "LibreSpeed"},
		},
		kind:   paymentdomain.CheckoutModulePurchase,
		userID: "u-3",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := mustEvent(t, "evt_"+tt.name, "checkout.session.completed", tt.session)
			event, err := adapter.Parse(context.Background(), payload)
			require.NoError(t, err)

			checkout, ok := event.(paymentdomain.CheckoutCompleted)
			require.True(t, ok, "got %T", event)
			assert.Equal(t, tt.kind, checkout.Kind)
			assert.Equal(t, tt.tokens, checkout.Tokens)
			assert.Equal(t, tt.userID, checkout.UserID)
			assert.Equal(t, tt.email, checkout.Email)
		})
	}
}

func TestParseInvoicePaidReadsSubscriptionMetadata(t *testing.T) {
	adapter := New("whsec_test", 0)
	payload := mustEvent(t, "evt_inv", "invoice.payment_succeeded", map[string]any{
		"id":             "in_1",
		"billing_reason": "subscription_cycle",
		"amount_paid":    1999,
		"currency":       "EUR",
		"customer_email": "sub@example.com",
		"subscription":   "sub_1",
		"subscription_details": map[string]any{
			"metadata": map[string]any{"userId": "u-9", "tokens": "3000"},
		},
	})

	event, err := adapter.Parse(context.Background(), payload)
	require.NoError(t, err)
	paid, ok := event.(paymentdomain.InvoicePaid)
	require.True(t, ok)
	assert.Equal(t, paymentdomain.BillingReasonSubscriptionCycle, paid.BillingReason)
	assert.Equal(t, int64(3000), paid.Tokens)
	assert.Equal(t, "u-9", paid.UserID)
	assert.Equal(t, "sub@example.com", paid.Email)
	assert.Equal(t, "eur", paid.Currency)
	assert.Equal(t, "sub_1", paid.SubscriptionID)
}

func TestParseLogOnlyAndIgnored(t *testing.T) {
	adapter := New("whsec_test", 0)
	ctx := context.Background()

	event, err := adapter.Parse(ctx, mustEvent(t, "evt_f", "invoice.payment_failed", map[string]any{"id": "in_2", "attempt_count": 2}))
	require.NoError(t, err)
	assert.IsType(t, paymentdomain.InvoiceFailed{}, event)

	event, err = adapter.Parse(ctx, mustEvent(t, "evt_d", "customer.subscription.deleted", map[string]any{"id": "sub_1", "status": "canceled"}))
	require.NoError(t, err)
	assert.IsType(t, paymentdomain.SubscriptionDeleted{}, event)

	event, err = adapter.Parse(ctx, mustEvent(t, "evt_pi", "payment_intent.payment_failed", map[string]any{
		"id": "pi_1", "amount": 500, "last_payment_error": map[string]any{"message": "card declined"},
	}))
	require.NoError(t, err)
	failed, ok := event.(paymentdomain.PaymentIntentFailed)
	require.True(t, ok)
	assert.Equal(t, "card declined", failed.FailureMessage)

	event, err = adapter.Parse(ctx, mustEvent(t, "evt_x", "customer.created", map[string]any{"id": "cus_1"}))
	require.NoError(t, err)
	assert.IsType(t, paymentdomain.Ignored{}, event)

	// invoice.paid accompanies invoice.payment_succeeded for the same invoice.
	event, err = adapter.Parse(ctx, mustEvent(t, "evt_ip", "invoice.paid", map[string]any{"id": "in_3", "billing_reason": "subscription_cycle"}))
	require.NoError(t, err)
	assert.IsType(t, paymentdomain.Ignored{}, event)

	_, err = adapter.Parse(ctx, []byte(`{"type":"invoice.paid"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	_, err = adapter.Parse(ctx, []byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func mustEvent(t *testing.T, id, eventType string, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    eventType,
		"created": fixedNow.Unix(),
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func signatureHeader(secret string, payload []byte, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
		Scheme:    "v1",
	}).Header
}
