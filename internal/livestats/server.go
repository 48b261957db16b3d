package livestats

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"forgefuzz/config"
)

type statsServerParams struct {
	fx.In

	LC        fx.Lifecycle
	Logger    *zap.Logger
	Hub       *Hub
	Tracker   *Tracker
	AppConfig *config.AppConfig
}

// registerStatsServer serves the observer websocket endpoint plus a plain
// snapshot endpoint for dashboards.
func registerStatsServer(params statsServerParams) {
	mux := http.NewServeMux()
	mux.Handle("/ws/stats/", params.Hub.StatsHandler(params.Tracker))
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(params.Tracker.Snapshot())
	})

	server := &http.Server{
		Addr:    params.AppConfig.StatsAddr,
		Handler: mux,
	}

	params.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					params.Logger.Error("stats server failed", zap.Error(err))
				}
			}()
			params.Logger.Info("stats server listening", zap.String("addr", params.AppConfig.StatsAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
