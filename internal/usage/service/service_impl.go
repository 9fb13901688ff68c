package service

import (
	"context"
	"io"
	"time"

	"github.com/smallbiznis/iahome/internal/clock"
	ledgerrepo "github.com/smallbiznis/iahome/internal/ledger/repository"
	obslogger "github.com/smallbiznis/iahome/internal/observability/logger"
	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	"github.com/smallbiznis/iahome/internal/providers/pdf"
	usagedomain "github.com/smallbiznis/iahome/internal/usage/domain"
	"github.com/smallbiznis/iahome/internal/usage/repository"
	"github.com/smallbiznis/iahome/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxStatementPeriod bounds a single statement request.
const maxStatementPeriod = 366 * 24 * time.Hour

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       repository.Repository
	LedgerRepo ledgerrepo.Repository
	Profiles   profiledomain.Service
	PDF        pdf.Provider
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       repository.Repository
	ledgerrepo ledgerrepo.Repository
	profiles   profiledomain.Service
	pdf        pdf.Provider
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		ledgerrepo: p.LedgerRepo,
		profiles:   p.Profiles,
		pdf:        p.PDF,
	}
}

func (s *Service) List(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	if req.UserID == "" {
		return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidUser
	}
	profile, err := s.profiles.Resolve(ctx, req.UserID)
	if err != nil {
		return usagedomain.ListUsageResponse{}, err
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	rows, err := s.repo.ListByUser(ctx, s.db, profile.ID, page)
	if err != nil {
		return usagedomain.ListUsageResponse{}, err
	}

	rows, pageInfo := pagination.BuildCursorPageInfo(rows, page.Limit(), func(r *usagedomain.UsageRecord) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: r.ID.String()})
		return token
	})
	out := make([]usagedomain.UsageRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return usagedomain.ListUsageResponse{PageInfo: *pageInfo, Usage: out}, nil
}

// Statement renders the user's usage between From (inclusive) and To
// (exclusive). Zero bounds default to the current calendar month.
func (s *Service) Statement(ctx context.Context, req usagedomain.StatementRequest) (io.Reader, error) {
	if req.UserID == "" {
		return nil, usagedomain.ErrInvalidUser
	}
	profile, err := s.profiles.Resolve(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	from, to := req.From, req.To
	if from.IsZero() {
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = now
	}
	if !from.Before(to) || to.Sub(from) > maxStatementPeriod {
		return nil, usagedomain.ErrInvalidPeriod
	}

	records, err := s.repo.ListRange(ctx, s.db, profile.ID, from, to)
	if err != nil {
		return nil, err
	}
	balance, err := s.ledgerrepo.FindByUser(ctx, s.db, profile.ID)
	if err != nil {
		return nil, err
	}

	data := pdf.StatementData{
		UserEmail:   profile.Email,
		UserID:      profile.ID,
		PeriodStart: from,
		PeriodEnd:   to,
		GeneratedAt: now,
		Lines:       make([]pdf.StatementLine, 0, len(records)),
	}
	if balance != nil {
		data.BalanceTokens = balance.Tokens
		data.PackageName = balance.PackageName
	}
	for _, r := range records {
		name := r.ModuleName
		if name == "" {
			name = r.ModuleID
		}
		data.Lines = append(data.Lines, pdf.StatementLine{
			Date:       r.UsageDate,
			ModuleName: name,
			Action:     r.ActionType,
			Tokens:     r.TokensConsumed,
		})
	}

	out, err := s.pdf.GenerateStatement(ctx, data)
	if err != nil {
		obslogger.WithUser(obslogger.WithContext(ctx, s.log), profile.ID).Error("statement render failed", zap.Error(err))
		return nil, err
	}
	return out, nil
}
