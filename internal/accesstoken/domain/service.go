package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type IssueRequest struct {
	// UserID accepts a profile UUID or an email address.
	UserID      string
	ModuleID    string
	ModuleName  string
	Name        string
	Description string
	AccessLevel AccessLevel
	Permissions []string
	MaxUsage    int64
	TTL         time.Duration
}

type IssueResult struct {
	Token AccessToken `json:"token"`
	JWT   string      `json:"jwt"`
}

type RedeemRequest struct {
	Token    string
	ModuleID string
	Action   string
	IP       string
}

// Validation is the public view of a verified token.
type Validation struct {
	Valid         bool         `json:"valid"`
	TokenID       snowflake.ID `json:"tokenId"`
	ModuleID      string       `json:"moduleId"`
	ModuleName    string       `json:"moduleName,omitempty"`
	UserID        string       `json:"userId"`
	AccessLevel   AccessLevel  `json:"accessLevel"`
	Permissions   []string     `json:"permissions"`
	ExpiresAt     time.Time    `json:"expiresAt"`
	CurrentUsage  int64        `json:"currentUsage"`
	MaxUsage      int64        `json:"maxUsage"`
	RemainingUses int64        `json:"remainingUses"`
}

type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*IssueResult, error)
	// IssueTx issues for an already resolved user inside tx.
	IssueTx(ctx context.Context, tx *gorm.DB, req IssueRequest) (*IssueResult, error)
	Validate(ctx context.Context, token, moduleID string) (*Validation, error)
	Redeem(ctx context.Context, req RedeemRequest) (*Validation, error)
	ListByUser(ctx context.Context, identifier string) ([]AccessToken, error)
	Revoke(ctx context.Context, id snowflake.ID) error
	ClearForUser(ctx context.Context, identifier string) (int64, error)
	TouchLastUsed(ctx context.Context, userID, moduleID string) error
}

var (
	ErrInvalidToken       = errors.New("invalid_access_token")
	ErrInvalidModule      = errors.New("invalid_module")
	ErrInvalidAccessLevel = errors.New("invalid_access_level")
	ErrInvalidMaxUsage    = errors.New("invalid_max_usage")
	ErrInvalidTTL         = errors.New("invalid_ttl")
	ErrSigningKeyMissing  = errors.New("access_token_secret_missing")
	ErrNotFound           = errors.New("access_token_not_found")
	ErrRevoked            = errors.New("access_token_revoked")
	ErrExpired            = errors.New("access_token_expired")
	ErrUsageExceeded      = errors.New("access_token_usage_exceeded")
	ErrModuleMismatch     = errors.New("access_token_module_mismatch")
)
