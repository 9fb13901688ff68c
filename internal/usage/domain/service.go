package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/smallbiznis/iahome/pkg/db/pagination"
)

type ListUsageRequest struct {
	UserID    string `json:"user_id"`
	PageToken string `json:"page_token"`
	PageSize  int    `json:"page_size"`
}

type ListUsageResponse struct {
	pagination.PageInfo
	Usage []UsageRecord `json:"usage"`
}

type StatementRequest struct {
	UserID string
	From   time.Time
	To     time.Time
}

type Service interface {
	List(ctx context.Context, req ListUsageRequest) (ListUsageResponse, error)
	Statement(ctx context.Context, req StatementRequest) (io.Reader, error)
}

var (
	ErrInvalidUser   = errors.New("invalid_user")
	ErrInvalidPeriod = errors.New("invalid_period")
)
