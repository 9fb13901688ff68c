package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/iahome/internal/catalog/domain"
	"github.com/smallbiznis/iahome/internal/clock"
	"github.com/smallbiznis/iahome/internal/config"
	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	"github.com/smallbiznis/iahome/internal/ledger/repository"
	obslogger "github.com/smallbiznis/iahome/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/iahome/internal/observability/metrics"
	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	usagedomain "github.com/smallbiznis/iahome/internal/usage/domain"
	usagerepo "github.com/smallbiznis/iahome/internal/usage/repository"
	"github.com/smallbiznis/iahome/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Policy     *config.TokenPolicyHolder
	Repo       repository.Repository
	UsageRepo  usagerepo.Repository
	Profiles   profiledomain.Service
	Catalog    catalogdomain.Service        `optional:"true"`
	Toucher    ledgerdomain.LastUsedToucher `optional:"true"`
	ObsMetrics *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	policy     *config.TokenPolicyHolder
	repo       repository.Repository
	usagerepo  usagerepo.Repository
	profiles   profiledomain.Service
	catalog    catalogdomain.Service
	toucher    ledgerdomain.LastUsedToucher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		policy:     p.Policy,
		repo:       p.Repo,
		usagerepo:  p.UsageRepo,
		profiles:   p.Profiles,
		catalog:    p.Catalog,
		toucher:    p.Toucher,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GetBalance(ctx context.Context, identifier string) (*ledgerdomain.Balance, error) {
	profile, err := s.profiles.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if err := s.ensureDefaultRow(ctx, s.db, profile.ID); err != nil {
		return nil, err
	}
	row, err := s.repo.FindByUser(ctx, s.db, profile.ID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, profiledomain.ErrNotFound
	}
	return toBalance(row), nil
}

func (s *Service) Consume(ctx context.Context, req ledgerdomain.ConsumeRequest) (*ledgerdomain.ConsumeResult, error) {
	if req.Tokens <= 0 {
		return nil, ledgerdomain.ErrInvalidTokens
	}
	profile, err := s.profiles.Resolve(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	userID := profile.ID
	moduleID := strings.TrimSpace(req.ModuleID)
	log := obslogger.WithUser(obslogger.WithContext(ctx, s.log), userID)

	// The default grant happens outside the debit transaction so a rejected
	// debit does not roll it back.
	if err := s.ensureDefaultRow(ctx, s.db, userID); err != nil {
		return nil, err
	}

	recordUsage := moduleID != "" && moduleID != config.TestModuleID
	moduleName := strings.TrimSpace(req.ModuleName)
	if recordUsage && moduleName == "" {
		moduleName = s.lookupModuleName(ctx, moduleID)
	}
	actionType := strings.TrimSpace(req.ActionType)
	if actionType == "" {
		actionType = usagedomain.DefaultActionType
	}

	now := s.clock.Now()
	result := &ledgerdomain.ConsumeResult{UserID: userID, TokensConsumed: req.Tokens}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.DecrementIfSufficient(ctx, tx, userID, req.Tokens, now)
		if err != nil {
			return err
		}
		if !ok {
			row, err := s.repo.FindByUser(ctx, tx, userID)
			if err != nil {
				return err
			}
			var current int64
			if row != nil {
				current = row.Tokens
			}
			return &ledgerdomain.InsufficientTokensError{Current: current, Required: req.Tokens}
		}

		if recordUsage {
			if err := s.usagerepo.Insert(ctx, tx, &usagedomain.UsageRecord{
				ID:             s.genID.Generate(),
				UserID:         userID,
				ModuleID:       moduleID,
				ModuleName:     moduleName,
				ActionType:     actionType,
				TokensConsumed: req.Tokens,
				UsageDate:      now,
			}); err != nil {
				return fmt.Errorf("record usage: %w", err)
			}
			result.UsageRecorded = true
		}

		row, err := s.repo.FindByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		result.TokensRemaining = row.Tokens
		return nil
	})
	if err != nil {
		var insufficient *ledgerdomain.InsufficientTokensError
		if errors.As(err, &insufficient) {
			s.obsMetrics.RecordConsumeDenied(ctx, moduleID)
			log.Debug("consumption denied",
				zap.Int64("current_tokens", insufficient.Current),
				zap.Int64("required_tokens", insufficient.Required),
			)
			return nil, err
		}
		log.Error("consumption failed", zap.Error(err))
		return nil, err
	}

	s.obsMetrics.RecordConsumption(ctx, moduleID, req.Tokens)
	log.Info("tokens consumed",
		zap.String("module_id", moduleID),
		zap.Int64("tokens", req.Tokens),
		zap.Int64("remaining", result.TokensRemaining),
	)

	if recordUsage && s.toucher != nil {
		if err := s.toucher.TouchLastUsed(ctx, userID, moduleID); err != nil {
			log.Warn("failed to update last used marker", zap.String("module_id", moduleID), zap.Error(err))
		}
	}

	return result, nil
}

func (s *Service) Credit(ctx context.Context, req ledgerdomain.CreditRequest) (*ledgerdomain.CreditResult, error) {
	identifier := strings.TrimSpace(req.UserID)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
	}
	if identifier == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}
	profile, err := s.profiles.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	req.UserID = profile.ID

	var result *ledgerdomain.CreditResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := s.CreditTx(ctx, tx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.Mode != ledgerdomain.CreditRecordOnly {
		s.obsMetrics.RecordCredit(ctx, string(req.TransactionType), req.Tokens)
	}
	obslogger.WithUser(obslogger.WithContext(ctx, s.log), result.UserID).Info("ledger credited",
		zap.String("mode", string(req.Mode)),
		zap.String("transaction_type", string(req.TransactionType)),
		zap.Int64("previous_tokens", result.PreviousTokens),
		zap.Int64("tokens", result.Tokens),
	)
	return result, nil
}

func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.CreditRequest) (*ledgerdomain.CreditResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if !req.TransactionType.Valid() {
		return nil, ledgerdomain.ErrInvalidTransactionType
	}
	switch req.Mode {
	case ledgerdomain.CreditAdd:
		if req.Tokens <= 0 {
			return nil, ledgerdomain.ErrInvalidTokens
		}
	case ledgerdomain.CreditReplace, ledgerdomain.CreditRecordOnly:
		if req.Tokens < 0 {
			return nil, ledgerdomain.ErrInvalidTokens
		}
	default:
		return nil, ledgerdomain.ErrInvalidCreditMode
	}

	now := s.clock.Now()
	packageName := strings.TrimSpace(req.PackageName)

	if req.Mode != ledgerdomain.CreditRecordOnly {
		// A first credit starts from zero; the welcome grant is for organic sign-ups only.
		if _, err := s.repo.EnsureRow(ctx, tx, &ledgerdomain.UserTokens{
			ID:          s.genID.Generate(),
			UserID:      userID,
			Tokens:      0,
			PackageName: packageName,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return nil, err
		}
	}

	before, err := s.repo.FindByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	var previous int64
	if before != nil {
		previous = before.Tokens
	}

	switch req.Mode {
	case ledgerdomain.CreditAdd:
		err = s.repo.Increment(ctx, tx, userID, req.Tokens, packageName, now)
	case ledgerdomain.CreditReplace:
		err = s.repo.SetBalance(ctx, tx, userID, req.Tokens, packageName, now)
	}
	if err != nil {
		return nil, err
	}

	current := previous
	if req.Mode != ledgerdomain.CreditRecordOnly {
		after, err := s.repo.FindByUser(ctx, tx, userID)
		if err != nil {
			return nil, err
		}
		current = after.Tokens
	}

	txn := ledgerdomain.CreditTransaction{
		ID:                   s.genID.Generate(),
		UserID:               userID,
		TransactionType:      req.TransactionType,
		Amount:               req.Amount,
		Currency:             strings.ToLower(strings.TrimSpace(req.Currency)),
		Tokens:               req.Tokens,
		StripePaymentID:      optionalString(req.StripePaymentID),
		StripeSubscriptionID: optionalString(req.StripeSubscriptionID),
		ExternalEventID:      optionalString(req.ExternalEventID),
		PackageType:          strings.TrimSpace(req.PackageType),
		Description:          strings.TrimSpace(req.Description),
		CreatedAt:            now,
	}
	if err := s.repo.InsertTransaction(ctx, tx, &txn); err != nil {
		return nil, fmt.Errorf("record credit transaction: %w", err)
	}

	return &ledgerdomain.CreditResult{
		UserID:         userID,
		PreviousTokens: previous,
		Tokens:         current,
		Transaction:    txn,
	}, nil
}

func (s *Service) ListTransactions(ctx context.Context, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	profile, err := s.profiles.Resolve(ctx, req.UserID)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}
	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	rows, err := s.repo.ListTransactions(ctx, s.db, profile.ID, page)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}

	rows, pageInfo := pagination.BuildCursorPageInfo(rows, page.Limit(), func(t *ledgerdomain.CreditTransaction) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: t.ID.String()})
		return token
	})
	out := make([]ledgerdomain.CreditTransaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return ledgerdomain.ListTransactionsResponse{PageInfo: *pageInfo, Transactions: out}, nil
}

func (s *Service) ensureDefaultRow(ctx context.Context, db *gorm.DB, userID string) error {
	policy := s.policy.Get()
	now := s.clock.Now()
	created, err := s.repo.EnsureRow(ctx, db, &ledgerdomain.UserTokens{
		ID:          s.genID.Generate(),
		UserID:      userID,
		Tokens:      policy.DefaultTokens,
		PackageName: policy.WelcomePackage,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return err
	}
	if created {
		s.log.Info("ledger row created with default grant",
			zap.String("user_id", userID),
			zap.Int64("tokens", policy.DefaultTokens),
		)
	}
	return nil
}

func (s *Service) lookupModuleName(ctx context.Context, moduleID string) string {
	if s.catalog == nil {
		return ""
	}
	m, err := s.catalog.Get(ctx, moduleID)
	if err != nil {
		return ""
	}
	return m.Title
}

func toBalance(row *ledgerdomain.UserTokens) *ledgerdomain.Balance {
	return &ledgerdomain.Balance{
		UserID:       row.UserID,
		Tokens:       row.Tokens,
		PackageName:  row.PackageName,
		PurchaseDate: row.PurchaseDate,
		IsActive:     row.IsActive,
		UpdatedAt:    row.UpdatedAt,
	}
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
