package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	const key = "0123456789abcdef"
	cfg := AuthConfig{Enabled: true, APIKey: key}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		cfg      AuthConfig
		path     string
		key      string
		wantCode int
	}{
		{"disabled", AuthConfig{}, "/convert", "", http.StatusNoContent},
		{"public root", cfg, "/", "", http.StatusNoContent},
		{"public health", cfg, "/health", "", http.StatusNoContent},
		{"websocket checks its own key", cfg, "/ws", "", http.StatusNoContent},
		{"missing key", cfg, "/convert", "", http.StatusUnauthorized},
		{"wrong key", cfg, "/jobs", "fedcba9876543210", http.StatusUnauthorized},
		{"valid key", cfg, "/jobs", key, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				r.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			AuthMiddleware(tt.cfg, next).ServeHTTP(rec, r)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestValidateAuthConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AuthConfig
		wantErr bool
	}{
		{"disabled without key", AuthConfig{}, false},
		{"enabled without key", AuthConfig{Enabled: true}, true},
		{"key too short", AuthConfig{Enabled: true, APIKey: "short"}, true},
		{"valid", AuthConfig{Enabled: true, APIKey: strings.Repeat("k", minAPIKeyLength)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateAuthConfig(tt.cfg); (err != nil) != tt.wantErr {
				t.Errorf("ValidateAuthConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if !strings.Contains(GenerateAPIKeyExample(), "VOC2COCO_API_KEY") {
		t.Error("example should name VOC2COCO_API_KEY")
	}
}
