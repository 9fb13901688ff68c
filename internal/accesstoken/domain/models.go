package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type AccessLevel string

const (
	AccessLevelBasic   AccessLevel = "basic"
	AccessLevelPremium AccessLevel = "premium"
	AccessLevelAdmin   AccessLevel = "admin"
)

func (l AccessLevel) Valid() bool {
	switch l {
	case AccessLevelBasic, AccessLevelPremium, AccessLevelAdmin:
		return true
	}
	return false
}

// MaxUsageLogEntries caps the per-token usage log.
const MaxUsageLogEntries = 50

var DefaultPermissions = []string{"read", "access"}

type UsageEntry struct {
	At     time.Time `json:"at"`
	Action string    `json:"action"`
	IP     string    `json:"ip,omitempty"`
}

// AccessToken is a signed, usage-capped grant to a single module.
type AccessToken struct {
	ID           snowflake.ID                    `gorm:"primaryKey" json:"id"`
	Name         string                          `gorm:"type:text;not null" json:"name"`
	Description  string                          `gorm:"type:text" json:"description,omitempty"`
	ModuleID     string                          `gorm:"type:text;not null;index" json:"module_id"`
	ModuleName   string                          `gorm:"type:text" json:"module_name,omitempty"`
	AccessLevel  AccessLevel                     `gorm:"type:text;not null;default:basic" json:"access_level"`
	Permissions  datatypes.JSONSlice[string]     `json:"permissions"`
	CurrentUsage int64                           `gorm:"not null;default:0" json:"current_usage"`
	MaxUsage     int64                           `gorm:"not null" json:"max_usage"`
	IsActive     bool                            `gorm:"not null;default:true" json:"is_active"`
	CreatedBy    string                          `gorm:"type:text;not null;index" json:"created_by"`
	JWTToken     string                          `gorm:"column:jwt_token;type:text;not null" json:"jwt_token"`
	JWTID        string                          `gorm:"column:jwt_id;type:text;not null;uniqueIndex" json:"jwt_id"`
	CreatedAt    time.Time                       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	ExpiresAt    time.Time                       `gorm:"not null" json:"expires_at"`
	LastUsedAt   *time.Time                      `json:"last_used_at,omitempty"`
	UsageLog     datatypes.JSONSlice[UsageEntry] `json:"usage_log,omitempty"`
}

// TableName sets the database table name.
func (AccessToken) TableName() string { return "access_tokens" }

// CheckUsable reports why a token cannot be used at now, or nil.
func (t AccessToken) CheckUsable(now time.Time) error {
	switch {
	case !t.IsActive:
		return ErrRevoked
	case !now.Before(t.ExpiresAt):
		return ErrExpired
	case t.CurrentUsage >= t.MaxUsage:
		return ErrUsageExceeded
	}
	return nil
}

func (t AccessToken) RemainingUses() int64 {
	if t.CurrentUsage >= t.MaxUsage {
		return 0
	}
	return t.MaxUsage - t.CurrentUsage
}
