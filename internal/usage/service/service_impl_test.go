package service

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/iahome/internal/clock"
	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/iahome/internal/ledger/repository"
	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	profilerepo "github.com/smallbiznis/iahome/internal/profile/repository"
	profilesvc "github.com/smallbiznis/iahome/internal/profile/service"
	"github.com/smallbiznis/iahome/internal/providers/pdf"
	usagedomain "github.com/smallbiznis/iahome/internal/usage/domain"
	"github.com/smallbiznis/iahome/internal/usage/repository"
	"github.com/smallbiznis/iahome/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	userID    = "0b9d5f3c-71a2-4c4e-8e1b-2f6a9d3c7e55"
	userEmail = "bob@example.com"
)

type capturePDF struct {
	last pdf.StatementData
}

func (c *capturePDF) GenerateStatement(_ context.Context, data pdf.StatementData) (io.Reader, error) {
	c.last = data
	return bytes.NewReader([]byte("%PDF-stub")), nil
}

var testNow = time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*gorm.DB, usagedomain.Service, *capturePDF) {
	t.Helper()
	db := testutil.NewDB(t, &profiledomain.Profile{}, &ledgerdomain.UserTokens{}, &usagedomain.UsageRecord{})
	require.NoError(t, db.Create(&profiledomain.Profile{ID: userID, Email: userEmail, Role: profiledomain.RoleUser}).Error)

	renderer := &capturePDF{}
	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(testNow),
		Repo:       repository.Provide(),
		LedgerRepo: ledgerrepo.Provide(),
		Profiles:   profilesvc.NewService(profilesvc.Params{DB: db, Log: zap.NewNop(), Repo: profilerepo.Provide()}),
		PDF:        renderer,
	})
	return db, svc, renderer
}

func seedUsage(t *testing.T, db *gorm.DB, dates ...time.Time) {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	for _, d := range dates {
		require.NoError(t, db.Create(&usagedomain.UsageRecord{
			ID:             node.Generate(),
			UserID:         userID,
			ModuleID:       "librespeed",
			ModuleName:     "LibreSpeed",
			ActionType:     usagedomain.DefaultActionType,
			TokensConsumed: 10,
			UsageDate:      d,
		}).Error)
	}
}

func TestListNewestFirstWithCursor(t *testing.T) {
	db, svc, _ := newTestService(t)
	seedUsage(t, db,
		testNow.Add(-3*time.Hour),
		testNow.Add(-2*time.Hour),
		testNow.Add(-1*time.Hour),
	)
	ctx := context.Background()

	first, err := svc.List(ctx, usagedomain.ListUsageRequest{UserID: userEmail, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Usage, 2)
	assert.True(t, first.HasMore)
	assert.True(t, first.Usage[0].UsageDate.After(first.Usage[1].UsageDate))

	rest, err := svc.List(ctx, usagedomain.ListUsageRequest{UserID: userID, PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, rest.Usage, 1)
	assert.False(t, rest.HasMore)
}

func TestListUnknownUser(t *testing.T) {
	_, svc, _ := newTestService(t)
	_, err := svc.List(context.Background(), usagedomain.ListUsageRequest{UserID: "ghost@example.com"})
	assert.ErrorIs(t, err, profiledomain.ErrNotFound)
}

func TestStatementDefaultsToCurrentMonth(t *testing.T) {
	db, svc, renderer := newTestService(t)
	require.NoError(t, db.Create(&ledgerdomain.UserTokens{ID: 7, UserID: userID, Tokens: 180, PackageName: "Welcome Package", IsActive: true}).Error)
	seedUsage(t, db,
		time.Date(2025, 2, 27, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC),
	)

	out, err := svc.Statement(context.Background(), usagedomain.StatementRequest{UserID: userID})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), renderer.last.PeriodStart)
	assert.Equal(t, testNow, renderer.last.PeriodEnd)
	assert.Len(t, renderer.last.Lines, 2)
	assert.Equal(t, int64(20), renderer.last.TotalTokens())
	assert.Equal(t, int64(180), renderer.last.BalanceTokens)
	assert.Equal(t, userEmail, renderer.last.UserEmail)
}

func TestStatementRejectsInvertedPeriod(t *testing.T) {
	_, svc, _ := newTestService(t)
	_, err := svc.Statement(context.Background(), usagedomain.StatementRequest{
		UserID: userID,
		From:   testNow,
		To:     testNow.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidPeriod)
}
