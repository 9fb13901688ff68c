package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	catalogdomain "github.com/smallbiznis/iahome/internal/catalog/domain"
	"github.com/smallbiznis/iahome/internal/clock"
	"github.com/smallbiznis/iahome/pkg/db/option"
	"github.com/smallbiznis/iahome/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	log   *zap.Logger
	clock clock.Clock
	store repository.Repository[catalogdomain.Module]
}

func NewService(p Params) catalogdomain.Service {
	return &Service{
		log:   p.Log.Named("catalog.service"),
		clock: p.Clock,
		store: repository.ProvideStore[catalogdomain.Module](p.DB),
	}
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]catalogdomain.Module, error) {
	opts := []option.QueryOption{option.WithOrder("title", false)}
	if activeOnly {
		opts = append(opts, option.WithWhere("is_active = ?", true))
	}
	items, err := s.store.Find(ctx, &catalogdomain.Module{}, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]catalogdomain.Module, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, idOrSlug string) (*catalogdomain.Module, error) {
	key := strings.TrimSpace(idOrSlug)
	if key == "" {
		return nil, catalogdomain.ErrNotFound
	}
	m, err := s.store.FindOne(ctx, &catalogdomain.Module{ID: key})
	if err != nil {
		return nil, err
	}
	if m == nil {
		m, err = s.store.FindOne(ctx, &catalogdomain.Module{Slug: slug.Make(key)})
		if err != nil {
			return nil, err
		}
	}
	if m == nil {
		return nil, catalogdomain.ErrNotFound
	}
	return m, nil
}

func (s *Service) Create(ctx context.Context, req catalogdomain.CreateRequest) (*catalogdomain.Module, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, catalogdomain.ErrInvalidTitle
	}
	moduleSlug := slug.Make(title)
	if moduleSlug == "" {
		return nil, catalogdomain.ErrInvalidTitle
	}
	if req.Price < 0 {
		return nil, catalogdomain.ErrInvalidPrice
	}
	cost := catalogdomain.DefaultTokenCost
	if req.TokenCost != nil {
		if *req.TokenCost < 0 {
			return nil, catalogdomain.ErrInvalidTokenCost
		}
		cost = *req.TokenCost
	}

	now := s.now()
	m := &catalogdomain.Module{
		ID:          uuid.NewString(),
		Slug:        moduleSlug,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Category:    strings.TrimSpace(req.Category),
		Price:       req.Price,
		TokenCost:   cost,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, m); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, catalogdomain.ErrSlugTaken
		}
		return nil, err
	}

	s.log.Info("module created", zap.String("module_id", m.ID), zap.String("slug", m.Slug))
	return m, nil
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}
