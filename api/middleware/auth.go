package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/campusmart-backend/api/responses"
	pkgAuth "github.com/angelmondragon/campusmart-backend/pkg/auth"
	"github.com/angelmondragon/campusmart-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
)

// Auth validates the bearer token and seeds the request context with the caller.
// Browsers cannot set headers on websocket upgrades, so the token may also arrive as ?access_token=.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid subject"))
				return
			}

			ctx := WithIdentity(r.Context(), userID, claims.Role)
			if logg != nil {
				ctx = logg.WithUserID(ctx, userID.String())
				ctx = logg.WithField(ctx, "actor_role", string(claims.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		if isWebsocketUpgrade(r) {
			return strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		return ""
	}
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
