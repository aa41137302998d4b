package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// AuthMiddleware guards the billing API. Callers authenticate either with a
// bearer JWT (dashboard sessions) or a pre-shared service API key (the
// messaging layer), sent as "Bearer <token>" or "ApiKey <key>".
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		switch parts[0] {
		case "Bearer":
			callerID, err := validateToken(parts[1])
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), "callerID", callerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		case "ApiKey":
			if !validateAPIKey(parts[1]) {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), "callerID", "service")
			next.ServeHTTP(w, r.WithContext(ctx))
		default:
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
		}
	})
}

func validateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	})

	if err != nil || !token.Valid {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}

	callerID := claims["user_id"]
	return fmt.Sprintf("%v", callerID), nil
}

// validateAPIKey compares the argon2id digest of the presented key against
// the configured digest in constant time.
func validateAPIKey(key string) bool {
	expected := viper.GetString("api.key_hash")
	salt := viper.GetString("api.key_salt")
	if expected == "" || salt == "" {
		return false
	}

	expectedHash, err := base64.StdEncoding.DecodeString(expected)
	if err != nil {
		return false
	}

	hash := argon2.IDKey([]byte(key), []byte(salt), 1, 64*1024, 4, uint32(len(expectedHash)))
	return subtle.ConstantTimeCompare(hash, expectedHash) == 1
}
