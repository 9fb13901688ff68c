// Package domain contains the append-only token usage log.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const DefaultActionType = "access"

// UsageRecord is one successful consumption. Rows are never updated.
type UsageRecord struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID         string       `gorm:"type:text;not null;index:idx_token_usage_user_date,priority:1" json:"user_id"`
	ModuleID       string       `gorm:"type:text;not null" json:"module_id"`
	ModuleName     string       `gorm:"type:text" json:"module_name"`
	ActionType     string       `gorm:"type:text;not null;default:access" json:"action_type"`
	TokensConsumed int64        `gorm:"not null" json:"tokens_consumed"`
	UsageDate      time.Time    `gorm:"not null;index:idx_token_usage_user_date,priority:2" json:"usage_date"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "token_usage" }
