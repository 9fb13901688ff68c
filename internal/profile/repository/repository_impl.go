package repository

import (
	"context"
	"errors"
	"strings"

	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id string) (*profiledomain.Profile, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*profiledomain.Profile, error)
	ListIDs(ctx context.Context, db *gorm.DB) ([]string, error)
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*profiledomain.Profile, error) {
	var p profiledomain.Profile
	err := db.WithContext(ctx).Where("id = ?", id).Take(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// FindByEmail matches case-insensitively; Supabase stores emails as entered.
func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*profiledomain.Profile, error) {
	var p profiledomain.Profile
	err := db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		Order("created_at ASC").
		Take(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *repo) ListIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&profiledomain.Profile{}).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}
