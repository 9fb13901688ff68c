package marketmetrics

import (
	"context"
	"time"

	"github.com/smallbiznis/iahome/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultPushInterval = time.Minute

var Module = fx.Module("market.metrics",
	fx.Provide(NewPusher),
	fx.Provide(NewCollector),
	fx.Invoke(startWorker),
)

func startWorker(lc fx.Lifecycle, cfg config.Config, collector *Collector, pusher Pusher, logger *zap.Logger) {
	if pusher == nil {
		return
	}
	logger = logger.Named("market.metrics")

	interval := cfg.Metrics.Interval
	if interval <= 0 {
		interval = defaultPushInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting market metrics worker", zap.Duration("interval", interval))
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				pushOnce(ctx, collector, pusher, logger)
				for {
					select {
					case <-ticker.C:
						pushOnce(ctx, collector, pusher, logger)
					case <-ctx.Done():
						logger.Info("stopping market metrics worker")
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func pushOnce(ctx context.Context, collector *Collector, pusher Pusher, logger *zap.Logger) {
	if err := collector.Refresh(ctx); err != nil {
		logger.Warn("market metrics refresh failed", zap.Error(err))
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	if err := pusher.Push(pushCtx, collector.Registry()); err != nil {
		logger.Error("market metrics push failed", zap.Error(err))
	}
}
