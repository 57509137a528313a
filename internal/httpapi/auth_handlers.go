package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Context key for client data
type contextKey string

const clientContextKey contextKey = "client"

// JWTClaims represents the claims in the JWT token
type JWTClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// GenerateToken signs a bearer token for a control client such as the
// telephony bridge or an in-call UI. A zero ttl issues a token without
// expiry.
func GenerateToken(secret, subject, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Role: role,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// websocket upgrades, so the live socket may pass ?token= instead.
func bearerToken(req *http.Request) (string, string) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		if websocketUpgrade(req) {
			if t := req.URL.Query().Get("token"); t != "" {
				return t, ""
			}
		}
		return "", "missing authorization header"
	}

	// Expect "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", "invalid authorization format"
	}
	return parts[1], ""
}

func websocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

// withAuth is middleware that requires valid JWT authentication
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.cfg.JWTSecret == "" {
			http.Error(w, `{"error": "authentication not configured"}`, http.StatusServiceUnavailable)
			return
		}

		tokenString, problem := bearerToken(req)
		if problem != "" {
			http.Error(w, fmt.Sprintf(`{"error": %q}`, problem), http.StatusUnauthorized)
			return
		}

		// Parse and validate JWT
		token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(r.cfg.JWTSecret), nil
		})

		if err != nil || !token.Valid {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok {
			http.Error(w, `{"error": "invalid token claims"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(req.Context(), clientContextKey, claims)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// getClient extracts the authenticated client from context
func getClient(ctx context.Context) *JWTClaims {
	claims, _ := ctx.Value(clientContextKey).(*JWTClaims)
	return claims
}

func clientName(ctx context.Context) string {
	if c := getClient(ctx); c != nil && c.Subject != "" {
		return c.Subject
	}
	return "unknown"
}
