package domain

import (
	"context"
	"errors"
	"time"
)

const DefaultTokenCost int64 = 10

// Module is a catalog entry for a hosted AI tool.
type Module struct {
	ID          string    `gorm:"primaryKey;type:text" json:"id"`
	Slug        string    `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	Title       string    `gorm:"type:text;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Category    string    `gorm:"type:text" json:"category"`
	Price       int64     `gorm:"not null;default:0" json:"price"`
	TokenCost   int64     `gorm:"not null;default:10" json:"token_cost"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Module) TableName() string { return "modules" }

type CreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Price       int64  `json:"price"`
	TokenCost   *int64 `json:"token_cost"`
}

type Service interface {
	List(ctx context.Context, activeOnly bool) ([]Module, error)
	// Get looks a module up by id first, then by slug.
	Get(ctx context.Context, idOrSlug string) (*Module, error)
	Create(ctx context.Context, req CreateRequest) (*Module, error)
}

var (
	ErrNotFound         = errors.New("module_not_found")
	ErrInvalidTitle     = errors.New("invalid_title")
	ErrInvalidTokenCost = errors.New("invalid_token_cost")
	ErrInvalidPrice     = errors.New("invalid_price")
	ErrSlugTaken        = errors.New("module_slug_taken")
)
