package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UserTokens is the single balance row per user.
type UserTokens struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID       string       `gorm:"type:text;not null;uniqueIndex" json:"user_id"`
	Tokens       int64        `gorm:"not null;default:0" json:"tokens"`
	PackageName  string       `gorm:"type:text" json:"package_name"`
	PurchaseDate *time.Time   `json:"purchase_date"`
	IsActive     bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UserTokens) TableName() string { return "user_tokens" }

type TransactionType string

const (
	TransactionSubscriptionInitial TransactionType = "subscription_initial"
	TransactionSubscriptionRenewal TransactionType = "subscription_renewal"
	TransactionTokenPurchase       TransactionType = "token_purchase"
	TransactionModulePurchase      TransactionType = "module_purchase"
	TransactionManualCredit        TransactionType = "manual_credit"
	TransactionManualReset         TransactionType = "manual_reset"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionSubscriptionInitial,
		TransactionSubscriptionRenewal,
		TransactionTokenPurchase,
		TransactionModulePurchase,
		TransactionManualCredit,
		TransactionManualReset:
		return true
	}
	return false
}

// CreditTransaction is the append-only audit row for every credit event.
// Amount is in minor currency units.
type CreditTransaction struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID               string          `gorm:"type:text;not null;index" json:"user_id"`
	TransactionType      TransactionType `gorm:"type:text;not null" json:"transaction_type"`
	Amount               int64           `gorm:"not null;default:0" json:"amount"`
	Currency             string          `gorm:"type:text" json:"currency,omitempty"`
	Tokens               int64           `gorm:"not null" json:"tokens"`
	StripePaymentID      *string         `gorm:"type:text" json:"stripe_payment_id,omitempty"`
	StripeSubscriptionID *string         `gorm:"type:text" json:"stripe_subscription_id,omitempty"`
	ExternalEventID      *string         `gorm:"type:text;index" json:"external_event_id,omitempty"`
	PackageType          string          `gorm:"type:text" json:"package_type,omitempty"`
	Description          string          `gorm:"type:text" json:"description,omitempty"`
	CreatedAt            time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "user_credit_transactions" }

// CreditMode selects additive or replacement semantics.
type CreditMode string

const (
	CreditAdd     CreditMode = "add"
	CreditReplace CreditMode = "replace"
	// CreditRecordOnly writes the audit row without touching the balance.
	CreditRecordOnly CreditMode = "record_only"
)
