package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	accesstokendomain "github.com/smallbiznis/iahome/internal/accesstoken/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, token *accesstokendomain.AccessToken) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*accesstokendomain.AccessToken, error)
	FindByJWTID(ctx context.Context, db *gorm.DB, jwtID string) (*accesstokendomain.AccessToken, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]accesstokendomain.AccessToken, error)
	// IncrementUsage bumps current_usage only while it is below max_usage.
	IncrementUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	SaveUsageLog(ctx context.Context, db *gorm.DB, token *accesstokendomain.AccessToken) error
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	DeleteByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, userID, moduleID string, now time.Time) error
	CountActive(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, token *accesstokendomain.AccessToken) error {
	return db.WithContext(ctx).Create(token).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*accesstokendomain.AccessToken, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByJWTID(ctx context.Context, db *gorm.DB, jwtID string) (*accesstokendomain.AccessToken, error) {
	return r.findOne(ctx, db, "jwt_id = ?", jwtID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*accesstokendomain.AccessToken, error) {
	var token accesstokendomain.AccessToken
	err := db.WithContext(ctx).Where(query, arg).Take(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &token, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string) ([]accesstokendomain.AccessToken, error) {
	var tokens []accesstokendomain.AccessToken
	err := db.WithContext(ctx).
		Where("created_by = ?", userID).
		Order("created_at DESC").
		Find(&tokens).Error
	return tokens, err
}

func (r *repo) IncrementUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE access_tokens
		 SET current_usage = current_usage + 1, last_used_at = ?
		 WHERE id = ? AND is_active = ? AND current_usage < max_usage`,
		now,
		id,
		true,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) SaveUsageLog(ctx context.Context, db *gorm.DB, token *accesstokendomain.AccessToken) error {
	return db.WithContext(ctx).
		Model(&accesstokendomain.AccessToken{}).
		Where("id = ?", token.ID).
		Update("usage_log", token.UsageLog).Error
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE access_tokens SET is_active = ? WHERE id = ?`,
		false,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DeleteByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	result := db.WithContext(ctx).
		Where("created_by = ?", userID).
		Delete(&accesstokendomain.AccessToken{})
	return result.RowsAffected, result.Error
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, userID, moduleID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE access_tokens SET last_used_at = ?
		 WHERE created_by = ? AND module_id = ? AND is_active = ?`,
		now,
		userID,
		moduleID,
		true,
	).Error
}

func (r *repo) CountActive(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&accesstokendomain.AccessToken{}).
		Where("is_active = ? AND expires_at > ? AND current_usage < max_usage", true, now).
		Count(&n).Error
	return n, err
}
