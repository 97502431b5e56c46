package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/bottlepoint/waterbot/api/responses"
	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/logger"
)

const readyTimeout = 2 * time.Second

// Pinger is anything the readiness probe depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

const envHeader = "X-Waterbot-Env"

func HealthLive(env string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(envHeader, env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every named dependency. A nil pinger is skipped, which is
// how the in-memory store mode reports Redis.
func HealthReady(env string, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		for name, dep := range deps {
			if dep == nil {
				checks[name] = "disabled"
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				err := pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable").
					WithDetails(map[string]any{"dependency": name})
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			checks[name] = "ok"
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
