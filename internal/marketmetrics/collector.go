package marketmetrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	accesstokenrepo "github.com/smallbiznis/iahome/internal/accesstoken/repository"
	"github.com/smallbiznis/iahome/internal/clock"
	ledgerrepo "github.com/smallbiznis/iahome/internal/ledger/repository"
	"gorm.io/gorm"
)

// Collector refreshes the marketplace gauges from the database.
type Collector struct {
	db           *gorm.DB
	clock        clock.Clock
	ledger       ledgerrepo.Repository
	accessTokens accesstokenrepo.Repository

	registry          *prometheus.Registry
	ledgerUsers       prometheus.Gauge
	outstandingTokens prometheus.Gauge
	activeTokens      prometheus.Gauge
}

func NewCollector(db *gorm.DB, clk clock.Clock, ledger ledgerrepo.Repository, accessTokens accesstokenrepo.Repository) *Collector {
	c := &Collector{
		db:           db,
		clock:        clk,
		ledger:       ledger,
		accessTokens: accessTokens,
		registry:     prometheus.NewRegistry(),
		ledgerUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iahome_ledger_users",
			Help: "Users holding a token ledger row.",
		}),
		outstandingTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iahome_outstanding_tokens",
			Help: "Sum of all unspent token balances.",
		}),
		activeTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iahome_active_access_tokens",
			Help: "Access tokens that are active, unexpired and under their usage ceiling.",
		}),
	}
	c.registry.MustRegister(c.ledgerUsers, c.outstandingTokens, c.activeTokens)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Refresh(ctx context.Context) error {
	stats, err := c.ledger.Stats(ctx, c.db)
	if err != nil {
		return err
	}
	active, err := c.accessTokens.CountActive(ctx, c.db, c.clock.Now())
	if err != nil {
		return err
	}
	c.ledgerUsers.Set(float64(stats.Users))
	c.outstandingTokens.Set(float64(stats.OutstandingTokens))
	c.activeTokens.Set(float64(active))
	return nil
}
