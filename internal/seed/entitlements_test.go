package seed

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/iahome/internal/catalog/domain"
	"github.com/smallbiznis/iahome/internal/clock"
	"github.com/smallbiznis/iahome/internal/config"
	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/iahome/internal/ledger/repository"
	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	profilerepo "github.com/smallbiznis/iahome/internal/profile/repository"
	profilesvc "github.com/smallbiznis/iahome/internal/profile/service"
	"github.com/smallbiznis/iahome/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var seedNow = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func newSeeder(t *testing.T) (*gorm.DB, *Entitlements) {
	t.Helper()
	return newSeederWithPolicy(t, config.DefaultTokenPolicy())
}

func newSeederWithPolicy(t *testing.T, policy config.TokenPolicy) (*gorm.DB, *Entitlements) {
	t.Helper()
	db := testutil.NewDB(t, &profiledomain.Profile{}, &ledgerdomain.UserTokens{})

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	log := zap.NewNop()

	profiles := profilesvc.NewService(profilesvc.Params{DB: db, Log: log, Repo: profilerepo.Provide()})
	seeder := NewEntitlements(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clock.NewFakeClock(seedNow),
		Policy:   config.NewStaticTokenPolicy(policy),
		Repo:     ledgerrepo.Provide(),
		Profiles: profiles,
	})
	return db, seeder
}

func TestEntitlementsRunIsIdempotent(t *testing.T) {
	db, seeder := newSeeder(t)

	profiles := []profiledomain.Profile{
		{ID: "11111111-1111-4111-8111-111111111111", Email: "new@example.com", Role: profiledomain.RoleUser, CreatedAt: seedNow.Add(-3 * time.Hour)},
		{ID: "22222222-2222-4222-8222-222222222222", Email: "low@example.com", Role: profiledomain.RoleUser, CreatedAt: seedNow.Add(-2 * time.Hour)},
		{ID: "33333333-3333-4333-8333-333333333333", Email: "rich@example.com", Role: profiledomain.RoleUser, CreatedAt: seedNow.Add(-time.Hour)},
	}
	require.NoError(t, db.Create(&profiles).Error)
	require.NoError(t, db.Create(&[]ledgerdomain.UserTokens{
		{ID: 1, UserID: profiles[1].ID, Tokens: 50, IsActive: true, CreatedAt: seedNow, UpdatedAt: seedNow},
		{ID: 2, UserID: profiles[2].ID, Tokens: 900, IsActive: true, CreatedAt: seedNow, UpdatedAt: seedNow},
	}).Error)

	report, err := seeder.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.AlreadyOK)
	assert.Equal(t, 0, report.Errors)
	require.Len(t, report.Results, 3)
	assert.Equal(t, StatusCreated, report.Results[0].Status)
	assert.Equal(t, StatusUpdated, report.Results[1].Status)
	assert.Equal(t, StatusAlreadyOK, report.Results[2].Status)

	balances := map[string]int64{}
	var rows []ledgerdomain.UserTokens
	require.NoError(t, db.Find(&rows).Error)
	for _, row := range rows {
		balances[row.UserID] = row.Tokens
	}
	assert.Equal(t, int64(200), balances[profiles[0].ID])
	assert.Equal(t, int64(200), balances[profiles[1].ID])
	assert.Equal(t, int64(900), balances[profiles[2].ID])

	var created ledgerdomain.UserTokens
	require.NoError(t, db.Where("user_id = ?", profiles[0].ID).Take(&created).Error)
	assert.Equal(t, "Welcome Package", created.PackageName)

	again, err := seeder.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, again.Total)
	assert.Equal(t, 3, again.AlreadyOK)
	assert.Zero(t, again.Created)
	assert.Zero(t, again.Updated)
}

func TestEntitlementsRunCreatesAtMinimumAboveDefault(t *testing.T) {
	policy := config.DefaultTokenPolicy()
	policy.DefaultTokens = 100
	policy.MinimumTokens = 300
	db, seeder := newSeederWithPolicy(t, policy)

	userID := "44444444-4444-4444-8444-444444444444"
	require.NoError(t, db.Create(&profiledomain.Profile{ID: userID, Email: "floor@example.com", Role: profiledomain.RoleUser, CreatedAt: seedNow}).Error)

	first, err := seeder.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	require.Len(t, first.Results, 1)
	assert.Equal(t, int64(300), first.Results[0].Tokens)

	second, err := seeder.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 1, second.AlreadyOK)

	var row ledgerdomain.UserTokens
	require.NoError(t, db.Where("user_id = ?", userID).Take(&row).Error)
	assert.Equal(t, int64(300), row.Tokens)
}

func TestEntitlementsRunWithoutProfiles(t *testing.T) {
	_, seeder := newSeeder(t)

	report, err := seeder.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Empty(t, report.Results)
}

func TestEnsureCatalogInsertsOnce(t *testing.T) {
	db := testutil.NewDB(t, &catalogdomain.Module{})

	n, err := EnsureCatalog(context.Background(), db, seedNow)
	require.NoError(t, err)
	assert.Equal(t, len(defaultCatalog), n)

	n, err = EnsureCatalog(context.Background(), db, seedNow)
	require.NoError(t, err)
	assert.Zero(t, n)

	var count int64
	require.NoError(t, db.Model(&catalogdomain.Module{}).Count(&count).Error)
	assert.Equal(t, int64(len(defaultCatalog)), count)

	var speed catalogdomain.Module
	require.NoError(t, db.Where("slug = ?", "librespeed").Take(&speed).Error)
	assert.Equal(t, "LibreSpeed", speed.Title)
	assert.True(t, speed.IsActive)
}

func TestEnsureCatalogRequiresDB(t *testing.T) {
	_, err := EnsureCatalog(context.Background(), nil, seedNow)
	assert.Error(t, err)
}
