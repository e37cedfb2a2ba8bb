// Package api provides the voc2coco REST upload service.
package api

import (
	"fmt"
	"net/http"
	"os"

	"github.com/FocuswithJustin/voc2coco/core/ledger"
	"github.com/FocuswithJustin/voc2coco/internal/logging"
	"github.com/FocuswithJustin/voc2coco/internal/server"
)

// exposedHeaders are the conversion response headers browsers may read.
var exposedHeaders = []string{
	"Content-Disposition",
	"X-Content-Digest",
	"X-Skipped-Documents",
	"X-Conversion-Warnings",
	"X-Request-ID",
}

// Start starts the API server with the given configuration.
func Start(cfg Config) error {
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert or key file not specified")
		}
		if _, err := os.Stat(cfg.TLS.CertFile); err != nil {
			return fmt.Errorf("TLS cert file not found: %w", err)
		}
		if _, err := os.Stat(cfg.TLS.KeyFile); err != nil {
			return fmt.Errorf("TLS key file not found: %w", err)
		}
	}

	handler, shutdown, err := NewHandler(cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	protocol := "http"
	wsProtocol := "ws"
	if cfg.TLS.Enabled {
		protocol = "https"
		wsProtocol = "wss"
		logging.Info("TLS enabled", "cert_file", cfg.TLS.CertFile)
	} else {
		logging.Warn("TLS disabled - using plain HTTP",
			"recommendation", "consider using TLS or reverse proxy for production")
	}
	logging.ServerStartup("rest_api", protocol, cfg.Port,
		"websocket_protocol", wsProtocol,
		"workers", cfg.Workers,
		"jobs_db", cfg.JobsDB)

	addr := fmt.Sprintf(":%d", cfg.Port)
	if cfg.TLS.Enabled {
		return http.ListenAndServeTLS(addr, cfg.TLS.CertFile, cfg.TLS.KeyFile, handler)
	}
	return http.ListenAndServe(addr, handler)
}

// NewHandler initializes the hub and optional ledger and returns the routed,
// middleware wrapped handler. The returned func releases both.
func NewHandler(cfg Config) (http.Handler, func(), error) {
	if err := ValidateAuthConfig(cfg.Auth); err != nil {
		return nil, nil, fmt.Errorf("invalid auth config: %w", err)
	}
	ServerConfig = cfg
	globalJobStore = NewJobStore(cfg.ResultTTL)

	if cfg.JobsDB != "" {
		l, err := ledger.Open(cfg.JobsDB)
		if err != nil {
			return nil, nil, err
		}
		jobLedger = l
		logging.Info("job ledger enabled",
			"path", server.AbsPath(cfg.JobsDB),
			"driver", ledger.DriverType())
	}

	GlobalHub = NewHub()
	go GlobalHub.Run()
	GlobalWebSocketRateLimiter = NewWebSocketRateLimiter()

	mux := setupRoutes(cfg)

	var handler http.Handler = server.SecurityHeadersWithCSP(server.APICSPConfig(), mux)

	if cfg.Auth.Enabled {
		handler = AuthMiddleware(cfg.Auth, handler)
		logging.SecurityEvent("authentication_configured", "api",
			"enabled", true,
			"note", "API key required")
	}

	var limiter *RateLimiter
	if cfg.RateLimitRequests > 0 {
		rateLimitConfig := RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimitRequests,
			BurstSize:         cfg.RateLimitBurst,
		}
		if rateLimitConfig.BurstSize == 0 {
			rateLimitConfig.BurstSize = 10
		}
		limiter = NewRateLimiter(rateLimitConfig)
		handler = limiter.Middleware(handler)
		logging.Info("rate limiting enabled",
			"requests_per_minute", rateLimitConfig.RequestsPerMinute,
			"burst_size", rateLimitConfig.BurstSize)
	}

	handler = server.CORSMiddlewareWithConfig(server.CORSConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		ExposedHeaders: exposedHeaders,
	}, handler)
	if len(cfg.AllowedOrigins) == 0 {
		logging.SecurityEvent("cors_configured", "api",
			"mode", "permissive",
			"note", "allowing all origins (*) - consider restricting for production")
	}

	handler = logging.CombinedMiddleware(handler)

	hub := GlobalHub
	shutdown := func() {
		hub.Stop()
		if limiter != nil {
			limiter.Stop()
		}
		if jobLedger != nil {
			jobLedger.Close()
			jobLedger = nil
		}
	}
	return handler, shutdown, nil
}

// setupRoutes configures all HTTP routes.
func setupRoutes(cfg Config) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/convert", handleConvert)
	mux.HandleFunc("/labels", handleLabels)
	mux.HandleFunc("/jobs", handleJobs)
	mux.HandleFunc("/jobs/", handleJobByID)

	wsConfig := DefaultWebSocketSecurityConfig()
	wsConfig.AllowedOrigins = cfg.AllowedOrigins
	wsConfig.RequireAuth = cfg.Auth.Enabled
	wsConfig.AuthConfig = cfg.Auth
	mux.HandleFunc("/ws", SecureWebSocketHandler(GlobalHub, wsConfig, GlobalWebSocketRateLimiter))

	return mux
}
