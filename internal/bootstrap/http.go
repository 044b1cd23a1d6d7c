package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/geolens/geolens/config"
	httpx "github.com/geolens/geolens/internal/http"
)

// HTTPServerConfig contains configuration for the HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	router := httpx.NewRouter(httpx.RouterServices{
		Diagnoses:   cfg.Services.Diagnoses,
		DeadLetters: cfg.Services.DeadLetters,
	})

	// Order: Recover -> Logging -> Router
	handler := httpx.Recover(logger)(httpx.Logging(logger)(router))

	addr := appCfg.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  appCfg.HTTP.ReadTimeout,
		WriteTimeout: appCfg.HTTP.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server
}

// ShutdownParams contains dependencies for HTTP server shutdown.
type ShutdownParams struct {
	Server  *http.Server
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(p ShutdownParams) error {
	if p.Server == nil {
		return nil
	}
	if p.Logger != nil {
		p.Logger.Info("shutting down HTTP server")
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if p.Logger != nil {
		p.Logger.Info("HTTP server stopped")
	}
	return nil
}
