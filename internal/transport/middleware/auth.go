package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/billoapp/tabz-payments/pkg/logger"
)

// OperatorClaims represents JWT claims for operator dashboard tokens
type OperatorClaims struct {
	OperatorID string `json:"operator_id"`
	BarID      int64  `json:"bar_id"`
	jwt.RegisteredClaims
}

// OperatorAuth gates the status and retry endpoints behind a signed
// operator token. Initiation and callbacks stay public.
func OperatorAuth(signingKey []byte, lg *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := extractBearer(r)
			if tokenString == "" {
				lg.Warn("operator request without bearer token", "path", r.URL.Path)
				writeUnauthorized(w, "authentication required")
				return
			}

			token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return signingKey, nil
			})
			if err != nil || !token.Valid {
				lg.Warn("operator token rejected", "path", r.URL.Path, "error", err)
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			claims, ok := token.Claims.(*OperatorClaims)
			if !ok {
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := logger.With(r.Context(), "operator_id", claims.OperatorID, "bar_id", claims.BarID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"code": 401, "message": %q}`, message)
}
