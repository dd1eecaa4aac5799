package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyBody   = 1 << 20 // 1 MB
)

// KeyValue is the subset of jetstream.KeyValue the middleware uses.
type KeyValue interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// idempotencyEntry stores a cached HTTP response, or marks a key whose
// request is still running.
type idempotencyEntry struct {
	Pending    bool                `json:"pending,omitempty"`
	StatusCode int                 `json:"status_code,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       []byte              `json:"body,omitempty"`
}

var pendingEntry = []byte(`{"pending":true}`)

// Idempotency returns middleware that deduplicates POST/PUT/PATCH/DELETE
// requests carrying an Idempotency-Key header. The key, scoped to the caller
// and route, is reserved before the handler runs: a concurrent request with
// the same key gets 409, a later one replays the stored response. Server
// errors release the key so a retry re-runs the request. A bucket that
// cannot be reached lets requests through unguarded.
func Idempotency(kv KeyValue) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(headerIdempotencyKey)
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := idempotencyKey(UserIDFromContext(ctx), r.Method, r.URL.Path, header)

			_, err := kv.Create(ctx, key, pendingEntry)
			switch {
			case err == nil:
			case errors.Is(err, jetstream.ErrKeyExists):
				if replay(w, r, kv, key) {
					return
				}
			default:
				slog.WarnContext(ctx, "idempotency: failed to reserve key", "key", key, "error", err)
			}

			// The request context may already be canceled by a disconnecting client.
			storeCtx := context.WithoutCancel(ctx)
			finished := false
			defer func() {
				if !finished {
					_ = kv.Delete(storeCtx, key) // handler panicked
				}
			}()

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)
			finished = true

			if rec.statusCode >= http.StatusInternalServerError || rec.body.Len() > maxIdempotencyBody {
				if err := kv.Delete(storeCtx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
					slog.WarnContext(ctx, "idempotency: failed to release key", "key", key, "error", err)
				}
				return
			}
			data, err := json.Marshal(idempotencyEntry{
				StatusCode: rec.statusCode,
				Headers:    w.Header().Clone(),
				Body:       rec.body.Bytes(),
			})
			if err != nil {
				_ = kv.Delete(storeCtx, key)
				return
			}
			if _, err := kv.Put(storeCtx, key, data); err != nil {
				slog.WarnContext(ctx, "idempotency: failed to store response", "key", key, "error", err)
			}
		})
	}
}

// replay answers from the entry stored under key. It reports false when the
// entry is unusable and the request should run.
func replay(w http.ResponseWriter, r *http.Request, kv KeyValue, key string) bool {
	entry, err := kv.Get(r.Context(), key)
	if err != nil {
		slog.WarnContext(r.Context(), "idempotency: reserved key unreadable", "key", key, "error", err)
		return false
	}
	var cached idempotencyEntry
	if err := json.Unmarshal(entry.Value(), &cached); err != nil || (!cached.Pending && cached.StatusCode == 0) {
		slog.WarnContext(r.Context(), "idempotency: corrupt cache entry", "key", key)
		return false
	}
	if cached.Pending {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"a request with this idempotency key is in progress"}`))
		return true
	}
	for k, vals := range cached.Headers {
		w.Header()[k] = vals
	}
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	return true
}

// idempotencyKey hashes the scope into a valid KV key.
func idempotencyKey(userID, method, path, key string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + method + "\x00" + path + "\x00" + key))
	return hex.EncodeToString(sum[:])
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
