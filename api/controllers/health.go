package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/angelmondragon/campusmart-backend/api/responses"
	"github.com/angelmondragon/campusmart-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether a backing dependency is reachable.
type Pinger func(ctx context.Context) error

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CampusMart-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency and fails with 503 naming the ones that are down.
func HealthReady(cfg *config.Config, pingers map[string]Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CampusMart-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		var down []string
		for name, ping := range pingers {
			if ping == nil {
				continue
			}
			if err := ping(ctx); err != nil {
				down = append(down, name)
			}
		}
		if len(down) > 0 {
			sort.Strings(down)
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").
				WithDetails(map[string]any{"unavailable": down}))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
