package middleware

import (
	"context"
	"net/http"
	"strings"

	"vinreports-api/internal/model"
	"vinreports-api/internal/service"
	"vinreports-api/pkg/apierror"
)

// TokenDataKey is the key for storing token data in request context.
const TokenDataKey contextKey = "token_data"

// Identity resolves the caller's session token, when one is presented,
// and attaches it to the request context. Requests without a token pass
// through as guests; fulfillment decides per request whether a guest may
// proceed (cached reports and one-time receipts need no account).
// NO GLOBAL STATE - token service is passed via closure.
func Identity(tokens *service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" || tokens == nil {
				next.ServeHTTP(w, r)
				return
			}

			tokenData, err := tokens.ValidateToken(r.Context(), token)
			if err != nil {
				// A presented-but-bad token is an error, not a guest: the
				// caller believes they are authenticated.
				writeError(w, apierror.Unauthorized("Invalid or expired token"))
				return
			}

			ctx := context.WithValue(r.Context(), TokenDataKey, tokenData)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests that did not authenticate through
// Identity. Mounted on the credit and share-management routes.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetTokenDataFromContext(r.Context()) == nil {
			writeError(w, apierror.Unauthorized("Authentication required. Use X-Token or Authorization: Bearer."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts a session token from X-Token or a Bearer
// Authorization header.
func bearerToken(r *http.Request) string {
	if token := r.Header.Get("X-Token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	w.Write(err.ToJSON())
}

// GetTokenDataFromContext retrieves token data from request context.
func GetTokenDataFromContext(ctx context.Context) *model.TokenData {
	if data, ok := ctx.Value(TokenDataKey).(*model.TokenData); ok {
		return data
	}
	return nil
}
