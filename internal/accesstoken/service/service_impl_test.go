package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accesstokendomain "github.com/smallbiznis/iahome/internal/accesstoken/domain"
	"github.com/smallbiznis/iahome/internal/accesstoken/repository"
	"github.com/smallbiznis/iahome/internal/clock"
	"github.com/smallbiznis/iahome/internal/config"
	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	profilerepo "github.com/smallbiznis/iahome/internal/profile/repository"
	profilesvc "github.com/smallbiznis/iahome/internal/profile/service"
	"github.com/smallbiznis/iahome/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ownerID    = "3c8e2f4a-9b1d-4e6f-a2c3-5d7e9f1a3b5c"
	ownerEmail = "carol@example.com"
)

type harness struct {
	db    *gorm.DB
	svc   *Service
	clock *clock.FakeClock
}

func newHarness(t *testing.T, secret string) harness {
	t.Helper()
	db := testutil.NewDB(t, &profiledomain.Profile{}, &accesstokendomain.AccessToken{})
	require.NoError(t, db.Create(&profiledomain.Profile{ID: ownerID, Email: ownerEmail, Role: profiledomain.RoleUser}).Error)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Cfg:      config.Config{AccessToken: config.AccessTokenConfig{Secret: secret, Issuer: "iahome"}},
		Policy:   config.NewStaticTokenPolicy(config.DefaultTokenPolicy()),
		Repo:     repository.Provide(),
		Profiles: profilesvc.NewService(profilesvc.Params{DB: db, Log: zap.NewNop(), Repo: profilerepo.Provide()}),
	})
	return harness{db: db, svc: svc, clock: fake}
}

func TestIssueAndValidate(t *testing.T) {
	h := newHarness(t, "test-secret")
	ctx := context.Background()

	issued, err := h.svc.Issue(ctx, accesstokendomain.IssueRequest{UserID: ownerEmail, ModuleID: "librespeed"})
	require.NoError(t, err)
	require.NotEmpty(t, issued.JWT)
	assert.Equal(t, issued.JWT, issued.Token.JWTToken)
	assert.Equal(t, accesstokendomain.AccessLevelBasic, issued.Token.AccessLevel)
	assert.Equal(t, []string{"read", "access"}, []string(issued.Token.Permissions))
	assert.Equal(t, int64(1000), issued.Token.MaxUsage)
	assert.Equal(t, "librespeed access", issued.Token.Name)

	v, err := h.svc.Validate(ctx, issued.JWT, "librespeed")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, ownerID, v.UserID)
	assert.Equal(t, int64(1000), v.RemainingUses)
	assert.Equal(t, issued.Token.ExpiresAt.Unix(), v.ExpiresAt.Unix())
}

func TestValidateRejectsModuleMismatchAndTampering(t *testing.T) {
	h := newHarness(t, "test-secret")
	ctx := context.Background()

	issued, err := h.svc.Issue(ctx, accesstokendomain.IssueRequest{UserID: ownerID, ModuleID: "photo"})
	require.NoError(t, err)

	_, err = h.svc.Validate(ctx, issued.JWT, "chat")
	assert.ErrorIs(t, err, accesstokendomain.ErrModuleMismatch)

	_, err = h.svc.Validate(ctx, issued.JWT+"x", "")
	assert.ErrorIs(t, err, accesstokendomain.ErrInvalidToken)

	other := newHarness(t, "another-secret")
	_, err = other.svc.Validate(ctx, issued.JWT, "")
	assert.ErrorIs(t, err, accesstokendomain.ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	h := newHarness(t, "test-secret")
	ctx := context.Background()

	issued, err := h.svc.Issue(ctx, accesstokendomain.IssueRequest{UserID: ownerID, ModuleID: "photo", TTL: time.Hour})
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	_, err = h.svc.Validate(ctx, issued.JWT, "")
	assert.ErrorIs(t, err, accesstokendomain.ErrExpired)
}

func TestRedeemHonorsCeiling(t *testing.T) {
	h := newHarness(t, "test-secret")
	ctx := context.Background()

	issued, err := h.svc.Issue(ctx, accesstokendomain.IssueRequest{UserID: ownerID, ModuleID: "photo", MaxUsage: 2})
	require.NoError(t, err)

	first, err := h.svc.Redeem(ctx, accesstokendomain.RedeemRequest{Token: issued.JWT, ModuleID: "photo", IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.CurrentUsage)
	assert.Equal(t, int64(1), first.RemainingUses)

	second, err := h.svc.Redeem(ctx, accesstokendomain.RedeemRequest{Token: "Bearer " + issued.JWT, ModuleID: "photo", Action: "upload"})
	require.NoError(t, err)
	assert.Zero(t, second.RemainingUses)

	_, err = h.svc.Redeem(ctx, accesstokendomain.RedeemRequest{Token: issued.JWT, ModuleID: "photo"})
	assert.ErrorIs(t, err, accesstokendomain.ErrUsageExceeded)

	var stored accesstokendomain.AccessToken
	require.NoError(t, h.db.Where("id = ?", issued.Token.ID).Take(&stored).Error)
	assert.Equal(t, int64(2), stored.CurrentUsage)
	require.Len(t, stored.UsageLog, 2)
	assert.Equal(t, "access", stored.UsageLog[0].Action)
	assert.Equal(t, "10.0.0.1", stored.UsageLog[0].IP)
	assert.Equal(t, "upload", stored.UsageLog[1].Action)
	require.NotNil(t, stored.LastUsedAt)
}

func TestRevokeAndClear(t *testing.T) {
	h := newHarness(t, "test-secret")
	ctx := context.Background()

	a, err := h.svc.Issue(ctx, accesstokendomain.IssueRequest{UserID: ownerID, ModuleID: "photo"})
	require.NoError(t, err)
	_, err = h.svc.Issue(ctx, accesstokendomain.IssueRequest{UserID: ownerID, ModuleID: "chat"})
	require.NoError(t, err)

	require.NoError(t, h.svc.Revoke(ctx, a.Token.ID))
	_, err = h.svc.Validate(ctx, a.JWT, "")
	assert.ErrorIs(t, err, accesstokendomain.ErrRevoked)

	assert.ErrorIs(t, h.svc.Revoke(ctx, snowflake.ID(42)), accesstokendomain.ErrNotFound)

	list, err := h.svc.ListByUser(ctx, ownerEmail)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	deleted, err := h.svc.ClearForUser(ctx, ownerEmail)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	list, err = h.svc.ListByUser(ctx, ownerID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTouchLastUsed(t *testing.T) {
	h := newHarness(t, "test-secret")
	ctx := context.Background()

	issued, err := h.svc.Issue(ctx, accesstokendomain.IssueRequest{UserID: ownerID, ModuleID: "photo"})
	require.NoError(t, err)
	require.NoError(t, h.svc.TouchLastUsed(ctx, ownerID, "photo"))

	var stored accesstokendomain.AccessToken
	require.NoError(t, h.db.Where("id = ?", issued.Token.ID).Take(&stored).Error)
	require.NotNil(t, stored.LastUsedAt)
	assert.Zero(t, stored.CurrentUsage)
}

func TestIssueValidation(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, "test-secret")
	_, err := h.svc.Issue(ctx, accesstokendomain.IssueRequest{UserID: ownerID})
	assert.ErrorIs(t, err, accesstokendomain.ErrInvalidModule)

	_, err = h.svc.Issue(ctx, accesstokendomain.IssueRequest{UserID: ownerID, ModuleID: "photo", AccessLevel: "root"})
	assert.ErrorIs(t, err, accesstokendomain.ErrInvalidAccessLevel)

	_, err = h.svc.Issue(ctx, accesstokendomain.IssueRequest{UserID: "ghost@example.com", ModuleID: "photo"})
	assert.ErrorIs(t, err, profiledomain.ErrNotFound)

	unsigned := newHarness(t, "")
	_, err = unsigned.svc.Issue(ctx, accesstokendomain.IssueRequest{UserID: ownerID, ModuleID: "photo"})
	assert.ErrorIs(t, err, accesstokendomain.ErrSigningKeyMissing)
}
