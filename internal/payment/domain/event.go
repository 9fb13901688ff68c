package domain

import "time"

// Event is the closed set of provider events the reconciler understands.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

type Envelope struct {
	ID      string
	Type    string
	Created time.Time
}

func (e Envelope) EventID() string   { return e.ID }
func (e Envelope) EventType() string { return e.Type }
func (Envelope) isEvent()            {}

// Customer identifies the buyer. UserID comes from checkout metadata and is
// preferred; Email is the fallback lookup key.
type Customer struct {
	UserID string
	Email  string
}

type CheckoutKind string

const (
	CheckoutSubscription   CheckoutKind = "subscription"
	CheckoutTokenPurchase  CheckoutKind = "token_purchase"
	CheckoutModulePurchase CheckoutKind = "module_purchase"
)

type CheckoutCompleted struct {
	Envelope
	Customer
	SessionID       string
	Mode            string
	Kind            CheckoutKind
	Tokens          int64
	PackageType     string
	PackageName     string
	ModuleID        string
	ModuleName      string
	AmountTotal     int64
	Currency        string
	SubscriptionID  string
	PaymentIntentID string
}

const (
	BillingReasonSubscriptionCreate = "subscription_create"
	BillingReasonSubscriptionCycle  = "subscription_cycle"
)

type InvoicePaid struct {
	Envelope
	Customer
	InvoiceID      string
	BillingReason  string
	Tokens         int64
	PackageType    string
	PackageName    string
	SubscriptionID string
	AmountPaid     int64
	Currency       string
}

type InvoiceFailed struct {
	Envelope
	Customer
	InvoiceID      string
	SubscriptionID string
	AmountDue      int64
	Currency       string
	AttemptCount   int64
}

type SubscriptionDeleted struct {
	Envelope
	Customer
	SubscriptionID string
	Status         string
}

type PaymentIntentSucceeded struct {
	Envelope
	PaymentIntentID string
	Amount          int64
	Currency        string
}

type PaymentIntentFailed struct {
	Envelope
	PaymentIntentID string
	Amount          int64
	Currency        string
	FailureMessage  string
}

// Ignored is any event type outside the reconciler's vocabulary.
type Ignored struct {
	Envelope
}
