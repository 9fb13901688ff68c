package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/iahome/internal/payment/domain"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// DefaultTolerance matches Stripe's own client libraries.
const DefaultTolerance = webhook.DefaultTolerance

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
}

// New returns a Stripe adapter. A non-positive tolerance skips the
// timestamp freshness check.
func New(secret string, tolerance time.Duration) *Adapter {
	return &Adapter{
		webhookSecret: strings.TrimSpace(secret),
		tolerance:     tolerance,
	}
}

var _ paymentdomain.Adapter = (*Adapter)(nil)

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrWebhookSecretMissing
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	var err error
	if a.tolerance > 0 {
		err = webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.webhookSecret, a.tolerance)
	} else {
		err = webhook.ValidatePayloadIgnoringTolerance(payload, sigHeader, a.webhookSecret)
	}
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (paymentdomain.Event, error) {
	var event stripelib.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	var object json.RawMessage
	if event.Data != nil {
		object = event.Data.Raw
	}

	env := paymentdomain.Envelope{
		ID:      event.ID,
		Type:    strings.TrimSpace(string(event.Type)),
		Created: timestamp(event.Created, 0),
	}

	switch env.Type {
	case "checkout.session.completed":
		return parseCheckout(env, object)
	case "invoice.payment_succeeded":
		return parseInvoicePaid(env, object)
	case "invoice.payment_failed":
		return parseInvoiceFailed(env, object)
	case "customer.subscription.deleted":
		return parseSubscriptionDeleted(env, object)
	case "payment_intent.succeeded":
		intent, err := decodeIntent(object)
		if err != nil {
			return nil, err
		}
		amount := intent.AmountReceived
		if amount <= 0 {
			amount = intent.Amount
		}
		return paymentdomain.PaymentIntentSucceeded{
			Envelope:        env,
			PaymentIntentID: intent.ID,
			Amount:          amount,
			Currency:        normalizeCurrency(intent.Currency),
		}, nil
	case "payment_intent.payment_failed":
		intent, err := decodeIntent(object)
		if err != nil {
			return nil, err
		}
		out := paymentdomain.PaymentIntentFailed{
			Envelope:        env,
			PaymentIntentID: intent.ID,
			Amount:          intent.Amount,
			Currency:        normalizeCurrency(intent.Currency),
		}
		if intent.LastPaymentError != nil {
			out.FailureMessage = strings.TrimSpace(intent.LastPaymentError.Message)
		}
		return out, nil
	default:
		return paymentdomain.Ignored{Envelope: env}, nil
	}
}

type stripeCheckoutSession struct {
	ID                string         `json:"id"`
	Mode              string         `json:"mode"`
	AmountTotal       int64          `json:"amount_total"`
	Currency          string         `json:"currency"`
	CustomerEmail     string         `json:"customer_email"`
	ClientReferenceID string         `json:"client_reference_id"`
	Subscription      stripeRef      `json:"subscription"`
	PaymentIntent     stripeRef      `json:"payment_intent"`
	Metadata          map[string]any `json:"metadata"`
	CustomerDetails   *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type stripeInvoice struct {
	ID                  string         `json:"id"`
	BillingReason       string         `json:"billing_reason"`
	AmountPaid          int64          `json:"amount_paid"`
	AmountDue           int64          `json:"amount_due"`
	AttemptCount        int64          `json:"attempt_count"`
	Currency            string         `json:"currency"`
	CustomerEmail       string         `json:"customer_email"`
	Subscription        stripeRef      `json:"subscription"`
	Metadata            map[string]any `json:"metadata"`
	SubscriptionDetails *struct {
		Metadata map[string]any `json:"metadata"`
	} `json:"subscription_details"`
	Lines *struct {
		Data []struct {
			Metadata map[string]any `json:"metadata"`
		} `json:"data"`
	} `json:"lines"`
}

type stripeSubscription struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata"`
}

type stripePaymentIntent struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	AmountReceived   int64  `json:"amount_received"`
	Currency         string `json:"currency"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// stripeRef accepts either an expanded object or a bare id.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*r = stripeRef(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = stripeRef(obj.ID)
	return nil
}

func parseCheckout(env paymentdomain.Envelope, raw json.RawMessage) (paymentdomain.Event, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	md := session.Metadata

	email := readMetadataValue(md, "userEmail", "user_email", "email")
	if email == "" && session.CustomerDetails != nil {
		email = strings.TrimSpace(session.CustomerDetails.Email)
	}
	if email == "" {
		email = strings.TrimSpace(session.CustomerEmail)
	}
	userID := readMetadataValue(md, "userId", "user_id")
	if userID == "" {
		userID = strings.TrimSpace(session.ClientReferenceID)
	}

	out := paymentdomain.CheckoutCompleted{
		Envelope:        env,
		Customer:        paymentdomain.Customer{UserID: userID, Email: email},
		SessionID:       session.ID,
		Mode:            strings.TrimSpace(session.Mode),
		Tokens:          readMetadataInt(md, "tokens", "tokenAmount", "token_amount"),
		PackageType:     readMetadataValue(md, "packageType", "package_type"),
		PackageName:     readMetadataValue(md, "packageName", "package_name"),
		ModuleID:        readMetadataValue(md, "moduleId", "module_id"),
		ModuleName:      readMetadataValue(md, "moduleName", "module_name"),
		AmountTotal:     session.AmountTotal,
		Currency:        normalizeCurrency(session.Currency),
		SubscriptionID:  string(session.Subscription),
		PaymentIntentID: string(session.PaymentIntent),
	}
	out.Kind = classifyCheckout(out, readMetadataValue(md, "type", "purchaseType", "purchase_type"))
	return out, nil
}

func classifyCheckout(c paymentdomain.CheckoutCompleted, purchaseType string) paymentdomain.CheckoutKind {
	purchaseType = strings.ToLower(purchaseType)
	switch {
	case c.Mode == "subscription" || purchaseType == "subscription":
		return paymentdomain.CheckoutSubscription
	case purchaseType == "module_purchase" || purchaseType == "module":
		return paymentdomain.CheckoutModulePurchase
	case c.ModuleID != "" && c.Tokens == 0 && c.PackageType == "":
		return paymentdomain.CheckoutModulePurchase
	default:
		return paymentdomain.CheckoutTokenPurchase
	}
}

func parseInvoicePaid(env paymentdomain.Envelope, raw json.RawMessage) (paymentdomain.Event, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	md := invoiceMetadata(invoice)
	return paymentdomain.InvoicePaid{
		Envelope:       env,
		Customer:       invoiceCustomer(invoice, md),
		InvoiceID:      invoice.ID,
		BillingReason:  strings.TrimSpace(invoice.BillingReason),
		Tokens:         readMetadataInt(md, "tokens", "tokenAmount", "token_amount"),
		PackageType:    readMetadataValue(md, "packageType", "package_type"),
		PackageName:    readMetadataValue(md, "packageName", "package_name"),
		SubscriptionID: string(invoice.Subscription),
		AmountPaid:     invoice.AmountPaid,
		Currency:       normalizeCurrency(invoice.Currency),
	}, nil
}

func parseInvoiceFailed(env paymentdomain.Envelope, raw json.RawMessage) (paymentdomain.Event, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return paymentdomain.InvoiceFailed{
		Envelope:       env,
		Customer:       invoiceCustomer(invoice, invoiceMetadata(invoice)),
		InvoiceID:      invoice.ID,
		SubscriptionID: string(invoice.Subscription),
		AmountDue:      invoice.AmountDue,
		Currency:       normalizeCurrency(invoice.Currency),
		AttemptCount:   invoice.AttemptCount,
	}, nil
}

func parseSubscriptionDeleted(env paymentdomain.Envelope, raw json.RawMessage) (paymentdomain.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return paymentdomain.SubscriptionDeleted{
		Envelope: env,
		Customer: paymentdomain.Customer{
			UserID: readMetadataValue(sub.Metadata, "userId", "user_id"),
			Email:  readMetadataValue(sub.Metadata, "userEmail", "user_email", "email"),
		},
		SubscriptionID: sub.ID,
		Status:         sub.Status,
	}, nil
}

func decodeIntent(raw json.RawMessage) (stripePaymentIntent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return intent, paymentdomain.ErrInvalidPayload
	}
	return intent, nil
}

// invoiceMetadata merges the places Stripe copies subscription metadata to,
// with the invoice's own metadata taking precedence.
func invoiceMetadata(invoice stripeInvoice) map[string]any {
	out := map[string]any{}
	if invoice.Lines != nil {
		for i := len(invoice.Lines.Data) - 1; i >= 0; i-- {
			for k, v := range invoice.Lines.Data[i].Metadata {
				out[k] = v
			}
		}
	}
	if invoice.SubscriptionDetails != nil {
		for k, v := range invoice.SubscriptionDetails.Metadata {
			out[k] = v
		}
	}
	for k, v := range invoice.Metadata {
		out[k] = v
	}
	return out
}

func invoiceCustomer(invoice stripeInvoice, md map[string]any) paymentdomain.Customer {
	email := readMetadataValue(md, "userEmail", "user_email", "email")
	if email == "" {
		email = strings.TrimSpace(invoice.CustomerEmail)
	}
	return paymentdomain.Customer{
		UserID: readMetadataValue(md, "userId", "user_id"),
		Email:  email,
	}
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func normalizeCurrency(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// readMetadataValue returns the first non-empty value among keys.
func readMetadataValue(metadata map[string]any, keys ...string) string {
	if metadata == nil {
		return ""
	}
	for _, key := range keys {
		value, ok := metadata[key]
		if !ok {
			continue
		}
		var out string
		switch cast := value.(type) {
		case string:
			out = strings.TrimSpace(cast)
		case float64:
			if cast != 0 {
				out = strconv.FormatInt(int64(cast), 10)
			}
		case json.Number:
			out = cast.String()
		case int64:
			out = strconv.FormatInt(cast, 10)
		case int:
			out = strconv.Itoa(cast)
		}
		if out != "" {
			return out
		}
	}
	return ""
}

// readMetadataInt parses an integer metadata value; Stripe stores all
// metadata as strings.
func readMetadataInt(metadata map[string]any, keys ...string) int64 {
	raw := readMetadataValue(metadata, keys...)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
