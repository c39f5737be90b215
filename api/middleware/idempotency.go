package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/campusmart-backend/api/responses"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/campusmart-backend/pkg/redis"
)

const (
	idempotencyHeader     = "Idempotency-Key"
	defaultIdempotencyTTL = 24 * time.Hour
	maxIdempotencyKeyLen  = 255
	// inFlightTTL bounds how long a crashed request can hold its key.
	inFlightTTL = 2 * time.Minute

	recordInFlight = "in_flight"
)

// IdempotencyRule marks a route whose responses are replayed for a repeated key.
// Required rules reject requests that omit the header.
type IdempotencyRule struct {
	Method   string
	Pattern  string
	TTL      time.Duration
	Required bool
}

// DefaultIdempotencyRules covers the money-moving and state-changing endpoints.
func DefaultIdempotencyRules(checkoutTTL time.Duration) []IdempotencyRule {
	if checkoutTTL <= 0 {
		checkoutTTL = defaultIdempotencyTTL
	}
	return []IdempotencyRule{
		{Method: http.MethodPost, Pattern: "/api/v1/checkout", TTL: checkoutTTL, Required: true},
		{Method: http.MethodPost, Pattern: "/api/v1/orders/{orderID}/confirm", TTL: defaultIdempotencyTTL},
		{Method: http.MethodPost, Pattern: "/api/v1/dispatch/orders/{orderID}/status", TTL: defaultIdempotencyTTL},
		{Method: http.MethodPost, Pattern: "/api/v1/cart/items", TTL: defaultIdempotencyTTL},
	}
}

type idempotencyRecord struct {
	State       string `json:"state,omitempty"`
	Status      int    `json:"status"`
	Body        string `json:"body"`
	ContentType string `json:"content_type,omitempty"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key on matching routes.
// Keys are scoped per user and route. The key is claimed before the handler runs, so a duplicate
// arriving while the first request is still in flight gets a 409 instead of a second execution.
// Server errors release the key so clients can retry them.
func Idempotency(store pkgredis.IdempotencyStore, rules []IdempotencyRule, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := matchRule(rules, r)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if key == "" {
				if rule.Required {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			storeKey := store.IdempotencyKey(scopeFor(r, rule), key)

			record, claimed, err := claimKey(r.Context(), store, storeKey, requestHash)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if !claimed {
				switch {
				case record.RequestHash != requestHash:
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
				case record.State == recordInFlight:
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in progress"))
				default:
					writeStoredResponse(w, record)
				}
				return
			}

			// the client may hang up before the handler finishes; the key must still settle
			persistCtx := context.WithoutCancel(r.Context())
			settled := false
			defer func() {
				if !settled {
					releaseKey(persistCtx, store, storeKey, logg)
				}
			}()

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.statusCode()
			if status >= http.StatusInternalServerError {
				return
			}
			// the handler committed; if the record cannot be stored the marker expires on its own
			settled = true
			payload, err := json.Marshal(idempotencyRecord{
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				ContentType: rec.Header().Get("Content-Type"),
				RequestHash: requestHash,
			})
			if err != nil {
				logError(r.Context(), logg, "idempotency.marshal_failed", err)
				return
			}
			if err := store.Set(persistCtx, storeKey, string(payload), rule.TTL); err != nil {
				logError(r.Context(), logg, "idempotency.persist_failed", err)
			}
		})
	}
}

// claimKey reserves storeKey with an in-flight marker. When the key is already held it returns
// the current record and claimed=false.
func claimKey(ctx context.Context, store pkgredis.IdempotencyStore, storeKey, requestHash string) (idempotencyRecord, bool, error) {
	marker, err := json.Marshal(idempotencyRecord{State: recordInFlight, RequestHash: requestHash})
	if err != nil {
		return idempotencyRecord{}, false, err
	}
	// a second pass covers a marker that expired between SetNX and Get
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := store.SetNX(ctx, storeKey, string(marker), inFlightTTL)
		if err != nil {
			return idempotencyRecord{}, false, err
		}
		if ok {
			return idempotencyRecord{}, true, nil
		}
		stored, err := store.Get(ctx, storeKey)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return idempotencyRecord{}, false, err
		}
		var record idempotencyRecord
		if err := json.Unmarshal([]byte(stored), &record); err != nil {
			return idempotencyRecord{}, false, fmt.Errorf("decode idempotency record: %w", err)
		}
		return record, false, nil
	}
	return idempotencyRecord{}, false, errors.New("idempotency key churned while claiming")
}

func releaseKey(ctx context.Context, store pkgredis.IdempotencyStore, storeKey string, logg *logger.Logger) {
	if err := store.Del(ctx, storeKey); err != nil {
		logError(ctx, logg, "idempotency.release_failed", err)
	}
}

func matchRule(rules []IdempotencyRule, r *http.Request) (IdempotencyRule, bool) {
	pattern := routePattern(r)
	for _, rule := range rules {
		if rule.Method == r.Method && rule.Pattern == pattern {
			return rule, true
		}
	}
	return IdempotencyRule{}, false
}

func scopeFor(r *http.Request, rule IdempotencyRule) string {
	return strings.Join([]string{UserIDFromContext(r.Context()).String(), rule.Method, r.URL.Path}, "|")
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func writeStoredResponse(w http.ResponseWriter, record idempotencyRecord) {
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
