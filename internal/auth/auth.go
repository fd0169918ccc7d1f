package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const SubjectContextKey ContextKey = "subject"

// APIKeyHeader carries the shared secret on indexing requests.
const APIKeyHeader = "X-API-Key"

type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

var authConfig *AuthConfig

type AuthConfig struct {
	APIKey    string
	JwtSecret []byte
}

// InitializeAuth sets up the auth configuration. An empty API key
// disables protection on indexing routes.
func InitializeAuth(apiKey, jwtSecret string) {
	authConfig = &AuthConfig{
		APIKey:    apiKey,
		JwtSecret: []byte(jwtSecret),
	}
}

// IsAuthEnabled returns whether indexing routes require an API key.
func IsAuthEnabled() bool {
	if authConfig == nil {
		return false
	}
	return authConfig.APIKey != ""
}

// GenerateJWT creates a short-lived session token for a caller that has
// already presented the shared API key.
func GenerateJWT(name string) (string, error) {
	if authConfig == nil || len(authConfig.JwtSecret) == 0 {
		return "", errors.New("auth not initialized")
	}
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   name,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(authConfig.JwtSecret)
}

// ValidateJWT validates and parses a session token.
func ValidateJWT(tokenString string) (*Claims, error) {
	if authConfig == nil || len(authConfig.JwtSecret) == 0 {
		return nil, errors.New("auth not initialized")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return authConfig.JwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// APIKeyMiddleware protects indexing routes with the shared secret. A
// valid session token in the Authorization header also passes. When no
// API key is configured, all requests go through.
func APIKeyMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !IsAuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		if key := r.Header.Get(APIKeyHeader); key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(authConfig.APIKey)) == 1 {
				ctx := context.WithValue(r.Context(), SubjectContextKey, "api-key")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			claims, err := ValidateJWT(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), SubjectContextKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		http.Error(w, "Authentication required", http.StatusUnauthorized)
	}
}

// SubjectFromContext extracts the authenticated subject, if any.
func SubjectFromContext(r *http.Request) string {
	if s, ok := r.Context().Value(SubjectContextKey).(string); ok {
		return s
	}
	return ""
}
