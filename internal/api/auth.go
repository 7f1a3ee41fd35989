package api

import (
	"net/http"
	"strings"

	"github.com/onnwee/paygate/internal/auth"
	"github.com/onnwee/paygate/internal/middleware"
)

// RequireActor wraps a handler with JWT actor authentication. The validated
// actor ID is stored in the request context; role checks beyond presence are
// left to the safety gate's allowed-actor set.
func RequireActor(jwtService *auth.JWTService, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
			WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "missing bearer token")
			return
		}

		claims, err := jwtService.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			ctx = middleware.SetErrorCode(ctx, ErrCodeAuthFailed)
			WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "invalid token")
			return
		}

		ctx = middleware.SetActor(ctx, claims.Subject)
		next(w, r.WithContext(ctx))
	}
}
