package seed

import (
	"context"

	"github.com/smallbiznis/iahome/internal/clock"
	"github.com/smallbiznis/iahome/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("seed",
	fx.Provide(NewEntitlements),
	fx.Invoke(bootstrapCatalog),
)

func bootstrapCatalog(lc fx.Lifecycle, cfg config.Config, db *gorm.DB, clk clock.Clock, log *zap.Logger) {
	if !cfg.BootstrapSeedCatalog {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n, err := EnsureCatalog(ctx, db, clk.Now())
			if err != nil {
				return err
			}
			log.Info("catalog bootstrap finished", zap.Int("inserted", n))
			return nil
		},
	})
}
