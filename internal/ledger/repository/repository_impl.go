package repository

import (
	"context"
	"errors"
	"time"

	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	"github.com/smallbiznis/iahome/pkg/db/option"
	"github.com/smallbiznis/iahome/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	// EnsureRow inserts row unless the user already has one and reports whether it did.
	EnsureRow(ctx context.Context, db *gorm.DB, row *ledgerdomain.UserTokens) (bool, error)
	FindByUser(ctx context.Context, db *gorm.DB, userID string) (*ledgerdomain.UserTokens, error)
	DecrementIfSufficient(ctx context.Context, db *gorm.DB, userID string, tokens int64, now time.Time) (bool, error)
	Increment(ctx context.Context, db *gorm.DB, userID string, tokens int64, packageName string, now time.Time) error
	SetBalance(ctx context.Context, db *gorm.DB, userID string, tokens int64, packageName string, now time.Time) error
	RaiseToMinimum(ctx context.Context, db *gorm.DB, userID string, minimum int64, now time.Time) (bool, error)
	InsertTransaction(ctx context.Context, db *gorm.DB, tx *ledgerdomain.CreditTransaction) error
	ListTransactions(ctx context.Context, db *gorm.DB, userID string, page pagination.Pagination) ([]*ledgerdomain.CreditTransaction, error)
	Stats(ctx context.Context, db *gorm.DB) (Stats, error)
}

// Stats summarizes the ledger for the marketplace gauges.
type Stats struct {
	Users             int64
	OutstandingTokens int64
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) EnsureRow(ctx context.Context, db *gorm.DB, row *ledgerdomain.UserTokens) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByUser(ctx context.Context, db *gorm.DB, userID string) (*ledgerdomain.UserTokens, error) {
	var row ledgerdomain.UserTokens
	err := db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repo) DecrementIfSufficient(ctx context.Context, db *gorm.DB, userID string, tokens int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE user_tokens
		 SET tokens = tokens - ?, updated_at = ?
		 WHERE user_id = ? AND tokens >= ?`,
		tokens,
		now,
		userID,
		tokens,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, userID string, tokens int64, packageName string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE user_tokens
		 SET tokens = tokens + ?,
		     package_name = COALESCE(NULLIF(?, ''), package_name),
		     purchase_date = ?,
		     is_active = ?,
		     updated_at = ?
		 WHERE user_id = ?`,
		tokens,
		packageName,
		now,
		true,
		now,
		userID,
	).Error
}

func (r *repo) SetBalance(ctx context.Context, db *gorm.DB, userID string, tokens int64, packageName string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE user_tokens
		 SET tokens = ?,
		     package_name = COALESCE(NULLIF(?, ''), package_name),
		     purchase_date = ?,
		     is_active = ?,
		     updated_at = ?
		 WHERE user_id = ?`,
		tokens,
		packageName,
		now,
		true,
		now,
		userID,
	).Error
}

// RaiseToMinimum tops a balance up to minimum and never lowers it.
func (r *repo) RaiseToMinimum(ctx context.Context, db *gorm.DB, userID string, minimum int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE user_tokens
		 SET tokens = ?, updated_at = ?
		 WHERE user_id = ? AND tokens < ?`,
		minimum,
		now,
		userID,
		minimum,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *ledgerdomain.CreditTransaction) error {
	return db.WithContext(ctx).Create(tx).Error
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, userID string, page pagination.Pagination) ([]*ledgerdomain.CreditTransaction, error) {
	var rows []*ledgerdomain.CreditTransaction
	stmt := option.ApplyPagination(page).Apply(db.WithContext(ctx).Where("user_id = ?", userID))
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB) (Stats, error) {
	var out Stats
	err := db.WithContext(ctx).
		Raw(`SELECT COUNT(*) AS users, COALESCE(SUM(tokens), 0) AS outstanding_tokens FROM user_tokens`).
		Scan(&out).Error
	return out, err
}
