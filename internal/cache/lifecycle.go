package cache

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"forgefuzz/config"
)

type EvictorParams struct {
	fx.In

	LC        fx.Lifecycle
	Logger    *zap.Logger
	Cache     *Cache
	AppConfig *config.AppConfig
}

// RegisterEvictor runs the periodic eviction pass for the lifetime of the
// application.
func RegisterEvictor(params EvictorParams) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	interval := params.AppConfig.Cache.EvictInterval

	params.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						params.Cache.Evict()
					}
				}
			}()
			params.Logger.Info("cache evictor started", zap.Duration("interval", interval))
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

var CacheModule = fx.Options(
	fx.Provide(NewCache),
	fx.Invoke(RegisterEvictor),
)
