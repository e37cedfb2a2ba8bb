package api

import "time"

// Config holds server configuration.
type Config struct {
	Port              int
	RateLimitRequests int           // Requests per minute (0 = disabled)
	RateLimitBurst    int           // Burst size
	Auth              AuthConfig    // Authentication configuration
	TLS               TLSConfig     // TLS configuration
	AllowedOrigins    []string      // CORS and WebSocket allowed origins (empty = allow all)
	Workers           int           // Parser workers per conversion (0 or 1 = sequential)
	JobsDB            string        // SQLite job ledger path (empty = no ledger)
	ResultTTL         time.Duration // How long job results stay downloadable (0 = DefaultResultTTL)
}

// TLSConfig holds TLS/HTTPS configuration.
type TLSConfig struct {
	Enabled  bool   // Enable HTTPS
	CertFile string // Path to TLS certificate file
	KeyFile  string // Path to TLS private key file
}

// ServerConfig is the active server configuration.
var ServerConfig Config

// Version is reported by / and /health. The command sets it at startup.
var Version = "dev"
