package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const testSecret = "test-secret-key"

func TestGenerateToken(t *testing.T) {
	tokenString, err := GenerateToken(testSecret, "telephony-bridge", "bridge", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("token did not validate: %v", err)
	}
	claims := token.Claims.(*JWTClaims)
	if claims.Subject != "telephony-bridge" {
		t.Errorf("claims.Subject = %q, want %q", claims.Subject, "telephony-bridge")
	}
	if claims.Role != "bridge" {
		t.Errorf("claims.Role = %q, want %q", claims.Role, "bridge")
	}
	if claims.ExpiresAt == nil {
		t.Error("expected an expiry")
	}

	noExpiry, err := GenerateToken(testSecret, "ui", "", 0)
	if err != nil {
		t.Fatalf("GenerateToken without ttl: %v", err)
	}
	token, _ = jwt.ParseWithClaims(noExpiry, &JWTClaims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	if token.Claims.(*JWTClaims).ExpiresAt != nil {
		t.Error("zero ttl should not set an expiry")
	}

	if _, err := GenerateToken("", "x", "", time.Hour); err == nil {
		t.Error("expected error without a secret")
	}
}

func TestWithAuthMiddleware(t *testing.T) {
	r := &Router{
		cfg: RouterConfig{JWTSecret: testSecret},
		log: zerolog.Nop(),
	}

	protected := r.withAuth(func(w http.ResponseWriter, req *http.Request) {
		claims := getClient(req.Context())
		if claims == nil {
			t.Error("client should be in context")
			http.Error(w, "no client", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(claims.Subject))
	})

	valid, err := GenerateToken(testSecret, "bridge", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "bridge",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := GenerateToken("another-secret", "bridge", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		header     string
		query      string
		upgrade    bool
		wantStatus int
	}{
		{name: "missing authorization header", wantStatus: http.StatusUnauthorized},
		{name: "invalid authorization format", header: "InvalidFormat", wantStatus: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer invalid-token", wantStatus: http.StatusUnauthorized},
		{name: "expired token", header: "Bearer " + expired, wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + foreign, wantStatus: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer " + valid, wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + valid, wantStatus: http.StatusOK},
		{name: "query token without upgrade", query: valid, wantStatus: http.StatusUnauthorized},
		{name: "query token on websocket upgrade", query: valid, upgrade: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/test"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()

			protected(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && rec.Body.String() != "bridge" {
				t.Errorf("body = %q, want subject", rec.Body.String())
			}
		})
	}
}

func TestWithAuth_NotConfigured(t *testing.T) {
	r := &Router{log: zerolog.Nop()}
	protected := r.withAuth(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler should not run")
	})

	rec := httptest.NewRecorder()
	protected(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
