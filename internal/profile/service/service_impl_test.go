package service

import (
	"context"
	"testing"

	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	"github.com/smallbiznis/iahome/internal/profile/repository"
	"github.com/smallbiznis/iahome/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const aliceID = "6f1c2a9e-3b7d-4c1e-9a55-0d2b8e7f4a10"

func newTestService(t *testing.T) profiledomain.Service {
	db := testutil.NewDB(t, &profiledomain.Profile{})
	require.NoError(t, db.Create(&profiledomain.Profile{
		ID:    aliceID,
		Email: "Alice@Example.com",
		Role:  profiledomain.RoleUser,
	}).Error)
	return NewService(Params{DB: db, Log: zap.NewNop(), Repo: repository.Provide()})
}

func TestResolveAcceptsUUIDAndEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	byID, err := svc.Resolve(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, aliceID, byID.ID)

	byEmail, err := svc.Resolve(ctx, " alice@example.com ")
	require.NoError(t, err)
	assert.Equal(t, aliceID, byEmail.ID)
}

func TestResolveUnknownIdentifiers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, profiledomain.ErrNotFound)

	_, err = svc.Resolve(ctx, "8a0c1d7e-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, profiledomain.ErrNotFound)

	_, err = svc.Resolve(ctx, "not-an-id")
	assert.ErrorIs(t, err, profiledomain.ErrInvalidIdentifier)

	_, err = svc.Resolve(ctx, "")
	assert.ErrorIs(t, err, profiledomain.ErrInvalidIdentifier)
}
