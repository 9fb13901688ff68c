package domain

import (
	"context"
	"errors"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Profile mirrors the Supabase-owned profiles table. The service only reads it.
type Profile struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	Email     string    `gorm:"type:text;not null;index" json:"email"`
	FullName  string    `gorm:"type:text" json:"full_name"`
	Role      string    `gorm:"type:text;not null;default:user" json:"role"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Profile) TableName() string { return "profiles" }

func (p Profile) IsAdmin() bool { return p.Role == RoleAdmin }

type Service interface {
	// Resolve accepts either a profile UUID or an email address.
	Resolve(ctx context.Context, identifier string) (*Profile, error)
	GetByID(ctx context.Context, id string) (*Profile, error)
	GetByEmail(ctx context.Context, email string) (*Profile, error)
	ListIDs(ctx context.Context) ([]string, error)
}

var (
	ErrNotFound          = errors.New("user_not_found")
	ErrInvalidIdentifier = errors.New("invalid_user_identifier")
)
