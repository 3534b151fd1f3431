package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/vitisco/internal/auth"
	"github.com/dukerupert/vitisco/internal/model"
)

const (
	msgNoToken      = "No token, authorization denied"
	msgInvalidToken = "Token is not valid"
	msgUnauthorized = "Unauthorized"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// UserLookup resolves the user a token was issued to.
type UserLookup interface {
	GetByID(id int64) (*model.User, error)
}

// RequireAuth validates the bearer token and populates AuthContext. The
// token may also be passed as the "token" query parameter, which is how
// websocket clients authenticate.
func RequireAuth(tokens TokenVerifier, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, msgNoToken)
				return
			}

			claims, err := tokens.Verify(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, msgInvalidToken)
				return
			}

			user, err := users.GetByID(claims.UserID)
			if err != nil || user == nil {
				writeError(w, http.StatusUnauthorized, msgInvalidToken)
				return
			}

			ac := auth.AuthContext{
				UserID:  user.ID,
				Email:   user.Email,
				IsAdmin: user.IsAdmin,
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin checks that the authenticated user is an administrator.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, msgUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("token")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}
