package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FocuswithJustin/voc2coco/internal/logging"
)

// WebSocketSecurityConfig holds WebSocket-specific security configuration.
type WebSocketSecurityConfig struct {
	// AllowedOrigins lists exact origins, "*.example.com" subdomain patterns
	// or "*". An empty list allows every origin.
	AllowedOrigins []string

	// MaxMessageRate is the maximum number of messages per second per client.
	MaxMessageRate int

	// MaxMessageSize is the maximum message size in bytes.
	MaxMessageSize int64

	// RequireAuth checks the API key before upgrading.
	RequireAuth bool
	AuthConfig  AuthConfig
}

// DefaultWebSocketSecurityConfig returns the default configuration.
func DefaultWebSocketSecurityConfig() WebSocketSecurityConfig {
	return WebSocketSecurityConfig{
		MaxMessageRate: 10,
		MaxMessageSize: 4096,
	}
}

// WebSocketRateLimiter tracks message rates per client.
type WebSocketRateLimiter struct {
	clients map[*Client]*tokenBucket
	mu      sync.RWMutex
}

// NewWebSocketRateLimiter creates a new WebSocket rate limiter.
func NewWebSocketRateLimiter() *WebSocketRateLimiter {
	return &WebSocketRateLimiter{
		clients: make(map[*Client]*tokenBucket),
	}
}

// Register registers a client with a burst of twice its per-second rate.
func (rl *WebSocketRateLimiter) Register(client *Client, messagesPerSecond int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rate := float64(messagesPerSecond)
	rl.clients[client] = newTokenBucket(rate*2, rate)
}

// Unregister removes a client from rate limiting.
func (rl *WebSocketRateLimiter) Unregister(client *Client) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.clients, client)
}

// Allow reports whether client may send another message. Unregistered
// clients are denied.
func (rl *WebSocketRateLimiter) Allow(client *Client) bool {
	rl.mu.RLock()
	bucket, exists := rl.clients[client]
	rl.mu.RUnlock()

	if !exists {
		return false
	}
	return bucket.allow()
}

// isOriginAllowed matches origin against the allowed patterns. Requests
// without an Origin header come from non-browser clients and are only
// accepted by a permissive configuration.
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if len(allowedOrigins) == 0 {
		return true
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			return true
		}
		if origin == "" {
			continue
		}
		if origin == allowed {
			return true
		}
		// *.example.com matches https://api.example.com but not https://badexample.com
		if domain, ok := strings.CutPrefix(allowed, "*."); ok {
			if strings.HasSuffix(origin, "."+domain) {
				return true
			}
		}
	}

	return false
}

// CheckOriginWithConfig creates a CheckOrigin function based on security config.
func CheckOriginWithConfig(config WebSocketSecurityConfig) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		allowed := isOriginAllowed(origin, config.AllowedOrigins)
		if !allowed {
			logging.SecurityEvent("websocket_origin_rejected", "websocket",
				"origin", origin,
				"client_ip", getClientIP(r))
		}
		return allowed
	}
}

// ValidateAuthForWebSocket checks authentication before WebSocket upgrade.
// Browsers cannot set headers on a WebSocket handshake, so the key may also
// be passed as the api_key query parameter. Returns "" on success.
func ValidateAuthForWebSocket(r *http.Request, config WebSocketSecurityConfig) string {
	if !config.RequireAuth {
		return ""
	}
	if !config.AuthConfig.Enabled {
		return "Authentication required but not configured"
	}

	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = r.URL.Query().Get("api_key")
	}
	if apiKey == "" {
		return "Missing API key (X-API-Key header or api_key query parameter)"
	}
	if !constantTimeCompare(apiKey, config.AuthConfig.APIKey) {
		return "Invalid API key"
	}
	return ""
}

// SecureWebSocketHandler upgrades /ws connections after checking
// authentication and origin, and registers the client with hub.
func SecureWebSocketHandler(hub *Hub, config WebSocketSecurityConfig, rateLimiter *WebSocketRateLimiter) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     CheckOriginWithConfig(config),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			respondError(w, http.StatusServiceUnavailable, "WEBSOCKET_UNAVAILABLE", "WebSocket hub not initialized")
			return
		}

		if authError := ValidateAuthForWebSocket(r, config); authError != "" {
			logging.SecurityEvent("websocket_auth_failed", "websocket",
				"reason", authError,
				"client_ip", getClientIP(r))
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", authError)
			return
		}

		// Upgrade writes its own 403 when the origin check fails.
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("websocket upgrade failed", "error", err)
			return
		}
		conn.SetReadLimit(config.MaxMessageSize)

		client := &Client{
			hub:  hub,
			conn: conn,
			send: make(chan []byte, sendBuffer),
		}
		rateLimiter.Register(client, config.MaxMessageRate)

		if !hub.join(client) {
			rateLimiter.Unregister(client)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		}

		logging.Debug("websocket connection established",
			"client_ip", getClientIP(r),
			"origin", r.Header.Get("Origin"),
			"request_id", logging.GetRequestID(r.Context()))

		go client.writePump()
		go client.readPump(rateLimiter)
	}
}
