package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewTokenPolicyHolderFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewTokenPolicyHolder(zap.NewNop())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, int64(200), policy.DefaultTokens)
	assert.Equal(t, int64(200), policy.MinimumTokens)
	assert.Equal(t, int64(3000), policy.SubscriptionQuota)
	assert.Equal(t, "Welcome Package", policy.WelcomePackage)
	assert.Equal(t, 30*24*time.Hour, policy.AccessToken.TTL)
	assert.Equal(t, int64(1000), policy.AccessToken.MaxUsage)
}

func TestTokenPolicyPackageLookupIsCaseInsensitive(t *testing.T) {
	policy := DefaultTokenPolicy()

	pkg, ok := policy.Package(" PRO ")
	require.True(t, ok)
	assert.Equal(t, int64(1500), pkg.Tokens)

	_, ok = policy.Package("")
	assert.False(t, ok)
	_, ok = policy.Package("enterprise")
	assert.False(t, ok)
}

func TestValidateTokenPolicyRejectsNonPositiveQuota(t *testing.T) {
	policy := DefaultTokenPolicy()
	policy.SubscriptionQuota = 0
	assert.Error(t, validateTokenPolicy(policy))

	policy = DefaultTokenPolicy()
	policy.Packages = append(policy.Packages, TokenPackage{Type: "broken"})
	assert.Error(t, validateTokenPolicy(policy))
}
