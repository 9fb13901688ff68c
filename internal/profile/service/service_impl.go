package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	"github.com/smallbiznis/iahome/internal/profile/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo repository.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo repository.Repository
}

func NewService(p Params) profiledomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("profile.service"),
		repo: p.Repo,
	}
}

func (s *Service) Resolve(ctx context.Context, identifier string) (*profiledomain.Profile, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, profiledomain.ErrInvalidIdentifier
	}
	if id, err := uuid.Parse(identifier); err == nil {
		return s.GetByID(ctx, id.String())
	}
	if strings.Contains(identifier, "@") {
		return s.GetByEmail(ctx, identifier)
	}
	return nil, profiledomain.ErrInvalidIdentifier
}

func (s *Service) GetByID(ctx context.Context, id string) (*profiledomain.Profile, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, profiledomain.ErrInvalidIdentifier
	}
	p, err := s.repo.FindByID(ctx, s.db, parsed.String())
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, profiledomain.ErrNotFound
	}
	return p, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*profiledomain.Profile, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, profiledomain.ErrInvalidIdentifier
	}
	p, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if p == nil {
		s.log.Debug("no profile for email")
		return nil, profiledomain.ErrNotFound
	}
	return p, nil
}

func (s *Service) ListIDs(ctx context.Context) ([]string, error) {
	return s.repo.ListIDs(ctx, s.db)
}
