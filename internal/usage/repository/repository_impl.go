package repository

import (
	"context"
	"time"

	usagedomain "github.com/smallbiznis/iahome/internal/usage/domain"
	"github.com/smallbiznis/iahome/pkg/db/option"
	"github.com/smallbiznis/iahome/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) error
	ListByUser(ctx context.Context, db *gorm.DB, userID string, page pagination.Pagination) ([]*usagedomain.UsageRecord, error)
	ListRange(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]usagedomain.UsageRecord, error)
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string, page pagination.Pagination) ([]*usagedomain.UsageRecord, error) {
	var rows []*usagedomain.UsageRecord
	stmt := option.ApplyPagination(page).Apply(db.WithContext(ctx).Where("user_id = ?", userID))
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListRange(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]usagedomain.UsageRecord, error) {
	var rows []usagedomain.UsageRecord
	err := db.WithContext(ctx).
		Where("user_id = ? AND usage_date >= ? AND usage_date < ?", userID, from, to).
		Order("usage_date ASC").
		Find(&rows).Error
	return rows, err
}
