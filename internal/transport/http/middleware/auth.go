package httpmw

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cwrk-planet/docsync/internal/security"
	"github.com/cwrk-planet/docsync/pkg/httputil"
	"github.com/cwrk-planet/docsync/pkg/logger"
)

type ctxKey string

const ctxKeyUserID ctxKey = "user_id"

// HeaderToken carries the document API credential.
const HeaderToken = "token"

type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AuthMiddleware verifies the JWT from the token header (or Authorization: Bearer).
func AuthMiddleware(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := strings.TrimSpace(r.Header.Get(HeaderToken))
			if tok == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					tok = strings.TrimSpace(auth[len("Bearer "):])
				}
			}
			if tok == "" {
				httputil.Error(w, http.StatusUnauthorized, "Authentication required", "No token provided")
				return
			}

			userID, err := v.Verify(tok)
			switch {
			case err == nil:
			case errors.Is(err, security.ErrTokenExpired):
				httputil.Error(w, http.StatusUnauthorized, "Token expired", "Please login again")
				return
			case errors.Is(err, security.ErrNoSecret):
				logger.FromContext(r.Context()).Error("jwt secret is not configured")
				httputil.Error(w, http.StatusInternalServerError, "Server configuration error", "Internal Server Error")
				return
			default:
				httputil.Error(w, http.StatusUnauthorized, "Invalid token", "Authentication failed")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserID).(string); ok {
		return v
	}
	return ""
}
