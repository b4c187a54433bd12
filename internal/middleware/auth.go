package middleware

import (
	"context"
	"net/http"
	"strings"

	"tabshare/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PayerIDKey is the context key holding the validated payer id.
const PayerIDKey contextKey = "payer_id"

// GetPayerID extracts the validated payer id from the context. Empty if the
// request did not carry a valid payer token.
func GetPayerID(ctx context.Context) string {
	payerID, _ := ctx.Value(PayerIDKey).(string)
	return payerID
}

// RequirePayer wraps payer-only endpoints. The request must carry a Bearer
// payer token scoped to the bill named in the {billID} path segment.
func RequirePayer(tokens *auth.PayerTokens, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, auth.ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, auth.ErrInvalidToken.Error(), http.StatusUnauthorized)
			return
		}

		billID := r.PathValue("billID")
		claims, err := tokens.Validate(parts[1], billID)
		if err != nil {
			http.Error(w, auth.ErrInvalidToken.Error(), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), PayerIDKey, claims.PayerID)
		next(w, r.WithContext(ctx))
	}
}
