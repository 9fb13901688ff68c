package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/iahome/internal/clock"
	"github.com/smallbiznis/iahome/internal/config"
	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/iahome/internal/ledger/repository"
	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	"github.com/smallbiznis/iahome/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	entitlementsLockKey = "seed:entitlements"
	entitlementsLockTTL = 5 * time.Minute
)

var ErrSeedInProgress = errors.New("seed_in_progress")

type Status string

const (
	StatusCreated   Status = "created"
	StatusUpdated   Status = "updated"
	StatusAlreadyOK Status = "already_ok"
	StatusError     Status = "error"
)

type Result struct {
	UserID string `json:"userId"`
	Status Status `json:"status"`
	Tokens int64  `json:"tokens,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Report struct {
	Results   []Result `json:"results"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	AlreadyOK int      `json:"alreadyOk"`
	Errors    int      `json:"errors"`
	Total     int      `json:"total"`
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	r.Total++
	switch res.Status {
	case StatusCreated:
		r.Created++
	case StatusUpdated:
		r.Updated++
	case StatusAlreadyOK:
		r.AlreadyOK++
	case StatusError:
		r.Errors++
	}
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Policy   *config.TokenPolicyHolder
	Repo     ledgerrepo.Repository
	Profiles profiledomain.Service
	Locker   *ratelimit.Locker `optional:"true"`
}

// Entitlements backfills a ledger row for every profile and tops up balances
// below the configured minimum.
type Entitlements struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	policy   *config.TokenPolicyHolder
	repo     ledgerrepo.Repository
	profiles profiledomain.Service
	locker   *ratelimit.Locker
}

func NewEntitlements(p Params) *Entitlements {
	return &Entitlements{
		db:       p.DB,
		log:      p.Log.Named("seed.entitlements"),
		genID:    p.GenID,
		clock:    p.Clock,
		policy:   p.Policy,
		repo:     p.Repo,
		profiles: p.Profiles,
		locker:   p.Locker,
	}
}

func (e *Entitlements) Run(ctx context.Context) (*Report, error) {
	var report *Report
	err := e.locker.WithLock(ctx, entitlementsLockKey, entitlementsLockTTL, func(ctx context.Context) error {
		var err error
		report, err = e.run(ctx)
		return err
	})
	if errors.Is(err, ratelimit.ErrLockHeld) {
		return nil, ErrSeedInProgress
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (e *Entitlements) run(ctx context.Context) (*Report, error) {
	ids, err := e.profiles.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	policy := e.policy.Get()
	report := &Report{Results: make([]Result, 0, len(ids))}
	for _, id := range ids {
		res := e.seedUser(ctx, id, policy)
		if res.Status == StatusError {
			e.log.Warn("entitlement seed failed", zap.String("user_id", id), zap.String("error", res.Error))
		}
		report.add(res)
	}

	e.log.Info("entitlement seed finished",
		zap.Int("total", report.Total),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("already_ok", report.AlreadyOK),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

func (e *Entitlements) seedUser(ctx context.Context, userID string, policy config.TokenPolicy) Result {
	now := e.clock.Now()
	// New rows start at the floor so a later run has nothing to raise.
	grant := max(policy.DefaultTokens, policy.MinimumTokens)
	created, err := e.repo.EnsureRow(ctx, e.db, &ledgerdomain.UserTokens{
		ID:           e.genID.Generate(),
		UserID:       userID,
		Tokens:       grant,
		PackageName:  policy.WelcomePackage,
		PurchaseDate: &now,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return Result{UserID: userID, Status: StatusError, Error: err.Error()}
	}
	if created {
		return Result{UserID: userID, Status: StatusCreated, Tokens: grant}
	}

	raised, err := e.repo.RaiseToMinimum(ctx, e.db, userID, policy.MinimumTokens, now)
	if err != nil {
		return Result{UserID: userID, Status: StatusError, Error: err.Error()}
	}
	if raised {
		return Result{UserID: userID, Status: StatusUpdated, Tokens: policy.MinimumTokens}
	}
	return Result{UserID: userID, Status: StatusAlreadyOK}
}
