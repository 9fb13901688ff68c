package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	accesstokendomain "github.com/smallbiznis/iahome/internal/accesstoken/domain"
	"github.com/smallbiznis/iahome/internal/accesstoken/repository"
	catalogdomain "github.com/smallbiznis/iahome/internal/catalog/domain"
	"github.com/smallbiznis/iahome/internal/clock"
	"github.com/smallbiznis/iahome/internal/config"
	obslogger "github.com/smallbiznis/iahome/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/iahome/internal/observability/metrics"
	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Policy     *config.TokenPolicyHolder
	Repo       repository.Repository
	Profiles   profiledomain.Service
	Catalog    catalogdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	policy     *config.TokenPolicyHolder
	repo       repository.Repository
	profiles   profiledomain.Service
	catalog    catalogdomain.Service
	obsMetrics *obsmetrics.Metrics
	signer     signer
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("accesstoken.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		policy:     p.Policy,
		repo:       p.Repo,
		profiles:   p.Profiles,
		catalog:    p.Catalog,
		obsMetrics: p.ObsMetrics,
		signer: signer{
			secret: []byte(strings.TrimSpace(p.Cfg.AccessToken.Secret)),
			issuer: strings.TrimSpace(p.Cfg.AccessToken.Issuer),
			now:    p.Clock.Now,
		},
	}
}

var _ accesstokendomain.Service = (*Service)(nil)

func (s *Service) Issue(ctx context.Context, req accesstokendomain.IssueRequest) (*accesstokendomain.IssueResult, error) {
	profile, err := s.profiles.Resolve(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	req.UserID = profile.ID
	return s.IssueTx(ctx, s.db, req)
}

func (s *Service) IssueTx(ctx context.Context, tx *gorm.DB, req accesstokendomain.IssueRequest) (*accesstokendomain.IssueResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, profiledomain.ErrInvalidIdentifier
	}
	moduleID := strings.TrimSpace(req.ModuleID)
	if moduleID == "" {
		return nil, accesstokendomain.ErrInvalidModule
	}

	policy := s.policy.Get()
	level := req.AccessLevel
	if level == "" {
		level = accesstokendomain.AccessLevelBasic
	}
	if !level.Valid() {
		return nil, accesstokendomain.ErrInvalidAccessLevel
	}
	maxUsage := req.MaxUsage
	if maxUsage == 0 {
		maxUsage = policy.AccessToken.MaxUsage
	}
	if maxUsage < 0 {
		return nil, accesstokendomain.ErrInvalidMaxUsage
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = policy.AccessToken.TTL
	}
	if ttl < 0 {
		return nil, accesstokendomain.ErrInvalidTTL
	}
	permissions := normalizePermissions(req.Permissions)

	moduleName := strings.TrimSpace(req.ModuleName)
	if moduleName == "" {
		moduleName = s.lookupModuleName(ctx, moduleID)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = moduleName
		if name == "" {
			name = moduleID
		}
		name += " access"
	}

	now := s.clock.Now().UTC()
	token := &accesstokendomain.AccessToken{
		ID:          s.genID.Generate(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		ModuleID:    moduleID,
		ModuleName:  moduleName,
		AccessLevel: level,
		Permissions: datatypes.NewJSONSlice(permissions),
		MaxUsage:    maxUsage,
		IsActive:    true,
		CreatedBy:   userID,
		JWTID:       ulid.Make().String(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		UsageLog:    datatypes.NewJSONSlice([]accesstokendomain.UsageEntry{}),
	}
	signed, err := s.signer.sign(token)
	if err != nil {
		return nil, err
	}
	token.JWTToken = signed

	if err := s.repo.Insert(ctx, tx, token); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordAccessToken(ctx, "issue")
	obslogger.WithUser(obslogger.WithContext(ctx, s.log), userID).Info("access token issued",
		zap.String("module_id", moduleID),
		zap.String("token_id", token.ID.String()),
		zap.Time("expires_at", token.ExpiresAt),
	)
	return &accesstokendomain.IssueResult{Token: *token, JWT: signed}, nil
}

func (s *Service) Validate(ctx context.Context, raw, moduleID string) (*accesstokendomain.Validation, error) {
	token, err := s.load(ctx, s.db, raw, moduleID)
	if err != nil {
		s.obsMetrics.RecordAccessToken(ctx, "validate_rejected")
		return nil, err
	}
	s.obsMetrics.RecordAccessToken(ctx, "validate")
	return toValidation(token), nil
}

func (s *Service) Redeem(ctx context.Context, req accesstokendomain.RedeemRequest) (*accesstokendomain.Validation, error) {
	moduleID := strings.TrimSpace(req.ModuleID)
	if moduleID == "" {
		return nil, accesstokendomain.ErrInvalidModule
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		action = "access"
	}

	var out *accesstokendomain.Validation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token, err := s.load(ctx, tx, req.Token, moduleID)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		ok, err := s.repo.IncrementUsage(ctx, tx, token.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return accesstokendomain.ErrUsageExceeded
		}

		updated, err := s.repo.FindByID(ctx, tx, token.ID)
		if err != nil {
			return err
		}
		if updated == nil {
			return accesstokendomain.ErrNotFound
		}
		entries := append([]accesstokendomain.UsageEntry(updated.UsageLog), accesstokendomain.UsageEntry{
			At:     now,
			Action: action,
			IP:     strings.TrimSpace(req.IP),
		})
		if len(entries) > accesstokendomain.MaxUsageLogEntries {
			entries = entries[len(entries)-accesstokendomain.MaxUsageLogEntries:]
		}
		updated.UsageLog = datatypes.NewJSONSlice(entries)
		if err := s.repo.SaveUsageLog(ctx, tx, updated); err != nil {
			return err
		}

		out = toValidation(updated)
		return nil
	})
	if err != nil {
		s.obsMetrics.RecordAccessToken(ctx, "redeem_rejected")
		return nil, err
	}

	s.obsMetrics.RecordAccessToken(ctx, "redeem")
	obslogger.WithUser(obslogger.WithContext(ctx, s.log), out.UserID).Debug("access token redeemed",
		zap.String("module_id", out.ModuleID),
		zap.Int64("remaining_uses", out.RemainingUses),
	)
	return out, nil
}

func (s *Service) ListByUser(ctx context.Context, identifier string) ([]accesstokendomain.AccessToken, error) {
	profile, err := s.profiles.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByUser(ctx, s.db, profile.ID)
}

func (s *Service) Revoke(ctx context.Context, id snowflake.ID) error {
	if id == 0 {
		return accesstokendomain.ErrNotFound
	}
	ok, err := s.repo.Deactivate(ctx, s.db, id)
	if err != nil {
		return err
	}
	if !ok {
		return accesstokendomain.ErrNotFound
	}
	s.obsMetrics.RecordAccessToken(ctx, "revoke")
	s.log.Info("access token revoked", zap.String("token_id", id.String()))
	return nil
}

func (s *Service) ClearForUser(ctx context.Context, identifier string) (int64, error) {
	profile, err := s.profiles.Resolve(ctx, identifier)
	if err != nil {
		return 0, err
	}
	deleted, err := s.repo.DeleteByUser(ctx, s.db, profile.ID)
	if err != nil {
		return 0, err
	}
	s.obsMetrics.RecordAccessToken(ctx, "clear")
	obslogger.WithUser(obslogger.WithContext(ctx, s.log), profile.ID).Info("access tokens cleared",
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}

func (s *Service) TouchLastUsed(ctx context.Context, userID, moduleID string) error {
	return s.repo.TouchLastUsed(ctx, s.db, userID, moduleID, s.clock.Now().UTC())
}

func (s *Service) load(ctx context.Context, db *gorm.DB, raw, moduleID string) (*accesstokendomain.AccessToken, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, accesstokendomain.ErrInvalidToken
	}
	claims, err := s.signer.parse(raw)
	if err != nil {
		return nil, err
	}

	token, err := s.repo.FindByJWTID(ctx, db, claims.ID)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, accesstokendomain.ErrInvalidToken
	}
	if err := token.CheckUsable(s.clock.Now()); err != nil {
		return nil, err
	}
	if moduleID = strings.TrimSpace(moduleID); moduleID != "" && moduleID != token.ModuleID {
		return nil, accesstokendomain.ErrModuleMismatch
	}
	return token, nil
}

func (s *Service) lookupModuleName(ctx context.Context, moduleID string) string {
	if s.catalog == nil {
		return ""
	}
	m, err := s.catalog.Get(ctx, moduleID)
	if err != nil {
		if !errors.Is(err, catalogdomain.ErrNotFound) {
			s.log.Warn("module lookup failed", zap.String("module_id", moduleID), zap.Error(err))
		}
		return ""
	}
	return m.Title
}

func normalizePermissions(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, p := range in {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return append([]string(nil), accesstokendomain.DefaultPermissions...)
	}
	return out
}

func toValidation(t *accesstokendomain.AccessToken) *accesstokendomain.Validation {
	return &accesstokendomain.Validation{
		Valid:         true,
		TokenID:       t.ID,
		ModuleID:      t.ModuleID,
		ModuleName:    t.ModuleName,
		UserID:        t.CreatedBy,
		AccessLevel:   t.AccessLevel,
		Permissions:   []string(t.Permissions),
		ExpiresAt:     t.ExpiresAt,
		CurrentUsage:  t.CurrentUsage,
		MaxUsage:      t.MaxUsage,
		RemainingUses: t.RemainingUses(),
	}
}
