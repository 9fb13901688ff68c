package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/iahome/pkg/db/pagination"
	"gorm.io/gorm"
)

type Balance struct {
	UserID       string     `json:"user_id"`
	Tokens       int64      `json:"tokens"`
	PackageName  string     `json:"package_name"`
	PurchaseDate *time.Time `json:"purchase_date"`
	IsActive     bool       `json:"is_active"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type ConsumeRequest struct {
	// UserID accepts a profile UUID or an email address.
	UserID     string
	Tokens     int64
	ModuleID   string
	ModuleName string
	ActionType string
}

type ConsumeResult struct {
	UserID          string
	TokensRemaining int64
	TokensConsumed  int64
	UsageRecorded   bool
}

type CreditRequest struct {
	UserID               string
	Email                string
	Tokens               int64
	Mode                 CreditMode
	TransactionType      TransactionType
	PackageName          string
	PackageType          string
	Amount               int64
	Currency             string
	StripePaymentID      string
	StripeSubscriptionID string
	ExternalEventID      string
	Description          string
}

type CreditResult struct {
	UserID         string            `json:"user_id"`
	PreviousTokens int64             `json:"previous_tokens"`
	Tokens         int64             `json:"tokens"`
	Transaction    CreditTransaction `json:"transaction"`
}

type ListTransactionsRequest struct {
	UserID    string
	PageToken string
	PageSize  int
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []CreditTransaction `json:"transactions"`
}

type Service interface {
	// GetBalance resolves the identifier and creates the default row when absent.
	GetBalance(ctx context.Context, identifier string) (*Balance, error)
	Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error)
	Credit(ctx context.Context, req CreditRequest) (*CreditResult, error)
	// CreditTx applies a credit for an already resolved user inside tx.
	CreditTx(ctx context.Context, tx *gorm.DB, req CreditRequest) (*CreditResult, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
}

// LastUsedToucher updates the legacy last-used marker after a consumption.
type LastUsedToucher interface {
	TouchLastUsed(ctx context.Context, userID, moduleID string) error
}

var (
	ErrInvalidUser            = errors.New("invalid_user")
	ErrInvalidTokens          = errors.New("invalid_tokens")
	ErrInvalidCreditMode      = errors.New("invalid_credit_mode")
	ErrInvalidTransactionType = errors.New("invalid_transaction_type")
	ErrInsufficientTokens     = errors.New("insufficient_tokens")
)

// InsufficientTokensError reports the balance the caller fell short of.
type InsufficientTokensError struct {
	Current  int64
	Required int64
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: have %d, need %d", e.Current, e.Required)
}

func (e *InsufficientTokensError) Is(target error) bool {
	return target == ErrInsufficientTokens
}
