package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/iahome/pkg/db/option"
)

// ErrDuplicate reports a unique constraint violation on Create.
var ErrDuplicate = errors.New("duplicate_record")

// Repository is a generic gorm-backed store for simple tables.
type Repository[T any] interface {
	// Find returns every row matching the non-zero fields of query.
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	// FindOne returns nil, nil when nothing matches.
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
}
