package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accesstokendomain "github.com/smallbiznis/iahome/internal/accesstoken/domain"
	accesstokenrepo "github.com/smallbiznis/iahome/internal/accesstoken/repository"
	accesstokensvc "github.com/smallbiznis/iahome/internal/accesstoken/service"
	"github.com/smallbiznis/iahome/internal/clock"
	"github.com/smallbiznis/iahome/internal/config"
	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/iahome/internal/ledger/repository"
	ledgersvc "github.com/smallbiznis/iahome/internal/ledger/service"
	paymentdomain "github.com/smallbiznis/iahome/internal/payment/domain"
	"github.com/smallbiznis/iahome/internal/payment/repository"
	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	profilerepo "github.com/smallbiznis/iahome/internal/profile/repository"
	profilesvc "github.com/smallbiznis/iahome/internal/profile/service"
	usagedomain "github.com/smallbiznis/iahome/internal/usage/domain"
	usagerepo "github.com/smallbiznis/iahome/internal/usage/repository"
	"github.com/smallbiznis/iahome/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	webhookSecret = "whsec_test"
	buyerID       = "9e7d5c3b-1a2f-4b6d-8c0e-2f4a6b8d0c1e"
	buyerEmail    = "dana@example.com"
)

var now = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	db  *gorm.DB
	svc paymentdomain.Service
}

func newEnv(t *testing.T, secret string) env {
	t.Helper()
	db := testutil.NewDB(t,
		&profiledomain.Profile{},
		&ledgerdomain.UserTokens{},
		&ledgerdomain.CreditTransaction{},
		&usagedomain.UsageRecord{},
		&paymentdomain.EventRecord{},
		&accesstokendomain.AccessToken{},
	)
	require.NoError(t, db.Create(&profiledomain.Profile{ID: buyerID, Email: buyerEmail, Role: profiledomain.RoleUser}).Error)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	fake := clock.NewFakeClock(now)
	policy := config.NewStaticTokenPolicy(config.DefaultTokenPolicy())
	cfg := config.Config{
		Stripe:      config.StripeConfig{WebhookSecret: secret, WebhookTolerance: 5 * time.Minute},
		AccessToken: config.AccessTokenConfig{Secret: "at-secret", Issuer: "iahome"},
	}
	log := zap.NewNop()

	profiles := profilesvc.NewService(profilesvc.Params{DB: db, Log: log, Repo: profilerepo.Provide()})
	ledger := ledgersvc.NewService(ledgersvc.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Policy: policy,
		Repo: ledgerrepo.Provide(), UsageRepo: usagerepo.Provide(), Profiles: profiles,
	})
	tokens := accesstokensvc.NewService(accesstokensvc.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Cfg: cfg, Policy: policy,
		Repo: accesstokenrepo.Provide(), Profiles: profiles,
	})

	svc := NewService(Params{
		DB: db, Log: log, Cfg: cfg, Clock: fake, GenID: node, Policy: policy,
		Repo: repository.Provide(), Ledger: ledger, Profiles: profiles, AccessTokens: tokens,
	})
	return env{db: db, svc: svc}
}

func (e env) setBalance(t *testing.T, tokens int64) {
	t.Helper()
	require.NoError(t, e.db.Create(&ledgerdomain.UserTokens{ID: 1, UserID: buyerID, Tokens: tokens, PackageName: "Welcome Package", IsActive: true}).Error)
}

func (e env) balance(t *testing.T) int64 {
	t.Helper()
	var row ledgerdomain.UserTokens
	require.NoError(t, e.db.Where("user_id = ?", buyerID).Take(&row).Error)
	return row.Tokens
}

func (e env) transactions(t *testing.T) []ledgerdomain.CreditTransaction {
	t.Helper()
	var rows []ledgerdomain.CreditTransaction
	require.NoError(t, e.db.Where("user_id = ?", buyerID).Order("id ASC").Find(&rows).Error)
	return rows
}

func (e env) deliver(t *testing.T, payload []byte) error {
	t.Helper()
	headers := http.Header{}
	headers.Set("Stripe-Signature", signatureHeader(webhookSecret, payload))
	return e.svc.IngestWebhook(context.Background(), payload, headers)
}

func signatureHeader(secret string, payload []byte) string {
	return stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	}).Header
}

func event(t *testing.T, id, eventType string, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    eventType,
		"created": now.Unix(),
		"data":    map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func TestSubscriptionCheckoutReplacesBalance(t *testing.T) {
	e := newEnv(t, webhookSecret)
	e.setBalance(t, 50)

	payload := event(t, "evt_sub", "checkout.session.completed", map[string]any{
		"id":           "cs_1",
		"mode":         "subscription",
		"subscription": "sub_1",
		"amount_total": 1999,
		"currency":     "usd",
		"metadata":     map[string]any{"userId": buyerID, "tokens": "3000", "packageType": "subscription_monthly"},
	})
	require.NoError(t, e.deliver(t, payload))

	assert.Equal(t, int64(3000), e.balance(t))
	txs := e.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, ledgerdomain.TransactionSubscriptionInitial, txs[0].TransactionType)
	assert.Equal(t, int64(1999), txs[0].Amount)
	require.NotNil(t, txs[0].StripeSubscriptionID)
	assert.Equal(t, "sub_1", *txs[0].StripeSubscriptionID)
}

func TestTokenPurchaseIsAdditiveAndReplaySafe(t *testing.T) {
	e := newEnv(t, webhookSecret)
	e.setBalance(t, 200)

	payload := event(t, "evt_buy", "checkout.session.completed", map[string]any{
		"id":             "cs_2",
		"mode":           "payment",
		"payment_intent": "pi_2",
		"metadata":       map[string]any{"userEmail": buyerEmail, "tokens": "500"},
	})
	require.NoError(t, e.deliver(t, payload))
	assert.Equal(t, int64(700), e.balance(t))

	require.NoError(t, e.deliver(t, payload))
	assert.Equal(t, int64(700), e.balance(t))
	assert.Len(t, e.transactions(t), 1)

	var stored paymentdomain.EventRecord
	require.NoError(t, e.db.Where("provider_event_id = ?", "evt_buy").Take(&stored).Error)
	assert.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, buyerID, stored.UserID)
}

func TestTokenPurchaseFallsBackToPackageAmount(t *testing.T) {
	e := newEnv(t, webhookSecret)
	e.setBalance(t, 10)

	payload := event(t, "evt_pack", "checkout.session.completed", map[string]any{
		"id":       "cs_3",
		"mode":     "payment",
		"metadata": map[string]any{"userId": buyerID, "packageType": "pro"},
	})
	require.NoError(t, e.deliver(t, payload))
	assert.Equal(t, int64(1510), e.balance(t))
}

func TestRenewalReplacesAndReplayIsStable(t *testing.T) {
	e := newEnv(t, webhookSecret)
	e.setBalance(t, 120)

	payload := event(t, "evt_cycle", "invoice.payment_succeeded", map[string]any{
		"id":             "in_1",
		"billing_reason": "subscription_cycle",
		"subscription":   "sub_1",
		"amount_paid":    1999,
		"metadata":       map[string]any{"userId": buyerID, "tokens": "3000"},
	})
	require.NoError(t, e.deliver(t, payload))
	assert.Equal(t, int64(3000), e.balance(t))

	require.NoError(t, e.deliver(t, payload))
	assert.Equal(t, int64(3000), e.balance(t))

	txs := e.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, ledgerdomain.TransactionSubscriptionRenewal, txs[0].TransactionType)
}

func TestInvoicePaidCompanionEventDoesNotRenewTwice(t *testing.T) {
	e := newEnv(t, webhookSecret)
	e.setBalance(t, 120)

	invoice := map[string]any{
		"id":             "in_1",
		"billing_reason": "subscription_cycle",
		"subscription":   "sub_1",
		"amount_paid":    1999,
		"metadata":       map[string]any{"userId": buyerID, "tokens": "3000"},
	}
	require.NoError(t, e.deliver(t, event(t, "evt_succeeded", "invoice.payment_succeeded", invoice)))
	assert.Equal(t, int64(3000), e.balance(t))

	require.NoError(t, e.db.Model(&ledgerdomain.UserTokens{}).Where("user_id = ?", buyerID).Update("tokens", 2500).Error)
	require.NoError(t, e.deliver(t, event(t, "evt_paid", "invoice.paid", invoice)))
	assert.Equal(t, int64(2500), e.balance(t))

	txs := e.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, ledgerdomain.TransactionSubscriptionRenewal, txs[0].TransactionType)

	var recorded int64
	require.NoError(t, e.db.Model(&paymentdomain.EventRecord{}).Count(&recorded).Error)
	assert.Equal(t, int64(1), recorded)
}

func TestFirstInvoiceOnlyRecordsTransaction(t *testing.T) {
	e := newEnv(t, webhookSecret)
	e.setBalance(t, 3000)

	payload := event(t, "evt_create", "invoice.payment_succeeded", map[string]any{
		"id":             "in_0",
		"billing_reason": "subscription_create",
		"customer_email": buyerEmail,
	})
	require.NoError(t, e.deliver(t, payload))

	assert.Equal(t, int64(3000), e.balance(t))
	txs := e.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, ledgerdomain.TransactionSubscriptionInitial, txs[0].TransactionType)
	assert.Equal(t, int64(3000), txs[0].Tokens)
}

func TestModulePurchaseIssuesAccessToken(t *testing.T) {
	e := newEnv(t, webhookSecret)

	payload := event(t, "evt_mod", "checkout.session.completed", map[string]any{
		"id":       "cs_4",
		"mode":     "payment",
		"metadata": map[string]any{"userId": buyerID, "moduleId": "librespeed", "moduleName": "LibreSpeed"},
	})
	require.NoError(t, e.deliver(t, payload))

	var tokens []accesstokendomain.AccessToken
	require.NoError(t, e.db.Where("created_by = ?", buyerID).Find(&tokens).Error)
	require.Len(t, tokens, 1)
	assert.Equal(t, "librespeed", tokens[0].ModuleID)

	txs := e.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, ledgerdomain.TransactionModulePurchase, txs[0].TransactionType)
}

func TestLogOnlyEventsLeaveLedgerUntouched(t *testing.T) {
	e := newEnv(t, webhookSecret)
	e.setBalance(t, 75)

	require.NoError(t, e.deliver(t, event(t, "evt_fail", "invoice.payment_failed", map[string]any{
		"id": "in_9", "customer_email": buyerEmail, "attempt_count": 1,
	})))
	require.NoError(t, e.deliver(t, event(t, "evt_del", "customer.subscription.deleted", map[string]any{
		"id": "sub_1", "status": "canceled", "metadata": map[string]any{"userId": buyerID},
	})))
	require.NoError(t, e.deliver(t, event(t, "evt_pi", "payment_intent.succeeded", map[string]any{"id": "pi_1", "amount": 100})))
	require.NoError(t, e.deliver(t, event(t, "evt_other", "customer.created", map[string]any{"id": "cus_1"})))

	assert.Equal(t, int64(75), e.balance(t))
	assert.Empty(t, e.transactions(t))

	var recorded int64
	require.NoError(t, e.db.Model(&paymentdomain.EventRecord{}).Count(&recorded).Error)
	assert.Equal(t, int64(3), recorded)
}

func TestUnresolvableUserIsAcknowledged(t *testing.T) {
	e := newEnv(t, webhookSecret)

	payload := event(t, "evt_ghost", "checkout.session.completed", map[string]any{
		"id":       "cs_5",
		"mode":     "payment",
		"metadata": map[string]any{"userEmail": "ghost@example.com", "tokens": "500"},
	})
	require.NoError(t, e.deliver(t, payload))

	var rows int64
	require.NoError(t, e.db.Model(&ledgerdomain.UserTokens{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestSignatureAndSecretFailures(t *testing.T) {
	payload := event(t, "evt_sig", "checkout.session.completed", map[string]any{"id": "cs_6"})

	e := newEnv(t, webhookSecret)
	headers := http.Header{}
	headers.Set("Stripe-Signature", signatureHeader("whsec_other", payload))
	assert.ErrorIs(t, e.svc.IngestWebhook(context.Background(), payload, headers), paymentdomain.ErrInvalidSignature)

	unconfigured := newEnv(t, "")
	assert.ErrorIs(t, unconfigured.deliver(t, payload), paymentdomain.ErrWebhookSecretMissing)
}

func TestMalformedPayloadIsAcknowledged(t *testing.T) {
	e := newEnv(t, webhookSecret)
	assert.NoError(t, e.deliver(t, []byte(`{"type":"checkout.session.completed"}`)))
}
