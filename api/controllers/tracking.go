package controllers

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/angelmondragon/campusmart-backend/api/middleware"
	"github.com/angelmondragon/campusmart-backend/api/responses"
	"github.com/angelmondragon/campusmart-backend/api/validators"
	orderssvc "github.com/angelmondragon/campusmart-backend/internal/orders"
	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// OrdersTrack streams status updates for one order over a websocket. The current status is
// sent first; the stream ends when the client disconnects or the subscription closes.
func OrdersTrack(svc orderssvc.Service, cfg config.TrackingConfig, origins []string, logg *logger.Logger) http.HandlerFunc {
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Subscribe before upgrading so visibility errors still answer with a JSON envelope.
		updates, err := svc.Track(ctx, orderID, orderssvc.Viewer{UserID: userID, Role: middleware.RoleFromContext(r.Context())})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			logWarn(r.Context(), logg, "tracking.upgrade_failed", err)
			return
		}
		defer conn.Close()

		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
		})
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				writeClose(conn, writeTimeout, websocket.CloseGoingAway)
				return
			case update, open := <-updates:
				if !open {
					writeClose(conn, writeTimeout, websocket.CloseNormalClosure)
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(update); err != nil {
					logWarn(r.Context(), logg, "tracking.write_failed", err)
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			}
		}
	}
}

func writeClose(conn *websocket.Conn, timeout time.Duration, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
}

// originChecker allows same-origin requests plus the configured CORS origins.
func originChecker(origins []string) func(*http.Request) bool {
	if slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(origins, origin) {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

func logWarn(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil {
		return
	}
	logg.Warn(logg.WithField(ctx, "error", err.Error()), msg)
}
