package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TestModuleID is the sentinel module id that never produces usage records.
const TestModuleID = "test"

// TokenPolicy is the runtime token economy: grants, thresholds and packs.
type TokenPolicy struct {
	DefaultTokens     int64             `mapstructure:"defaultTokens"`
	MinimumTokens     int64             `mapstructure:"minimumTokens"`
	SubscriptionQuota int64             `mapstructure:"subscriptionQuota"`
	WelcomePackage    string            `mapstructure:"welcomePackage"`
	AccessToken       AccessTokenPolicy `mapstructure:"accessToken"`
	Packages          []TokenPackage    `mapstructure:"packages"`
}

type AccessTokenPolicy struct {
	TTL      time.Duration `mapstructure:"ttl"`
	MaxUsage int64         `mapstructure:"maxUsage"`
}

// TokenPackage maps a Stripe package type to a token amount.
type TokenPackage struct {
	Type   string `mapstructure:"type"`
	Name   string `mapstructure:"name"`
	Tokens int64  `mapstructure:"tokens"`
}

func DefaultTokenPolicy() TokenPolicy {
	return TokenPolicy{
		DefaultTokens:     200,
		MinimumTokens:     200,
		SubscriptionQuota: 3000,
		WelcomePackage:    "Welcome Package",
		AccessToken: AccessTokenPolicy{
			TTL:      30 * 24 * time.Hour,
			MaxUsage: 1000,
		},
		Packages: []TokenPackage{
			{Type: "basic", Name: "Basic Pack", Tokens: 500},
			{Type: "pro", Name: "Pro Pack", Tokens: 1500},
			{Type: "subscription", Name: "Monthly Subscription", Tokens: 3000},
		},
	}
}

// Package looks up a token pack by its type code.
func (p TokenPolicy) Package(packageType string) (TokenPackage, bool) {
	key := strings.ToLower(strings.TrimSpace(packageType))
	if key == "" {
		return TokenPackage{}, false
	}
	for _, pkg := range p.Packages {
		if strings.ToLower(pkg.Type) == key {
			return pkg, true
		}
	}
	return TokenPackage{}, false
}

type TokenPolicyHolder struct {
	current atomic.Value // holds TokenPolicy
}

// NewStaticTokenPolicy returns a holder that never reloads.
func NewStaticTokenPolicy(p TokenPolicy) *TokenPolicyHolder {
	holder := &TokenPolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewTokenPolicyHolder(log *zap.Logger) (*TokenPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("tokens")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/iahome")
	v.AddConfigPath(".")

	v.SetEnvPrefix("IAHOME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTokenPolicy()
	v.SetDefault("tokens.defaultTokens", defaults.DefaultTokens)
	v.SetDefault("tokens.minimumTokens", defaults.MinimumTokens)
	v.SetDefault("tokens.subscriptionQuota", defaults.SubscriptionQuota)
	v.SetDefault("tokens.welcomePackage", defaults.WelcomePackage)
	v.SetDefault("tokens.accessToken.ttl", defaults.AccessToken.TTL)
	v.SetDefault("tokens.accessToken.maxUsage", defaults.AccessToken.MaxUsage)
	v.SetDefault("tokens.packages", defaults.Packages)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var policy TokenPolicy
	if err := v.UnmarshalKey("tokens", &policy); err != nil {
		return nil, err
	}
	if err := validateTokenPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticTokenPolicy(policy)
	log = log.Named("config.tokens")

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated TokenPolicy
			if err := v.UnmarshalKey("tokens", &updated); err != nil {
				log.Warn("token policy reload failed", zap.Error(err))
				return
			}
			if err := validateTokenPolicy(updated); err != nil {
				log.Warn("invalid token policy ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("token policy reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *TokenPolicyHolder) Get() TokenPolicy {
	return h.current.Load().(TokenPolicy)
}

func validateTokenPolicy(p TokenPolicy) error {
	if p.DefaultTokens < 0 {
		return errors.New("tokens.defaultTokens cannot be negative")
	}
	if p.MinimumTokens < 0 {
		return errors.New("tokens.minimumTokens cannot be negative")
	}
	if p.SubscriptionQuota <= 0 {
		return errors.New("tokens.subscriptionQuota must be positive")
	}
	if p.AccessToken.TTL <= 0 {
		return errors.New("tokens.accessToken.ttl must be positive")
	}
	if p.AccessToken.MaxUsage <= 0 {
		return errors.New("tokens.accessToken.maxUsage must be positive")
	}
	for _, pkg := range p.Packages {
		if strings.TrimSpace(pkg.Type) == "" || pkg.Tokens <= 0 {
			return errors.New("tokens.packages entries need a type and positive tokens")
		}
	}
	return nil
}
