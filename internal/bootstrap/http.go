package bootstrap

import (
	"log/slog"
	"net/http"
	"time"

	httpx "github.com/edgeplane/dispatchd/internal/http"
)

const (
	httpReadHeaderTimeout = 10 * time.Second
	httpIdleTimeout       = 120 * time.Second
)

// buildHTTPServer assembles the API router and server from the container.
func buildHTTPServer(cfg *ServiceOrchestrationConfig) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handler := httpx.NewRouter(httpx.RouterServices{
		Jobs:      cfg.Services.Jobs,
		Telemetry: cfg.Services.Telemetry,
		Metrics:   cfg.Services.Metrics,
		Logger:    logger,
	})

	return &http.Server{
		Addr:              cfg.Config.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: httpReadHeaderTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
}
