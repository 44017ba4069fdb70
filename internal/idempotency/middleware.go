package idempotency

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/statusbeacon/statusbeacon/internal/pkg/ctxlog"
)

// HeaderName carries the client-chosen deduplication key.
const HeaderName = "Idempotency-Key"

var requestsDeduped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "statusbeacon",
		Subsystem: "idempotency",
		Name:      "requests_total",
		Help:      "Keyed requests by outcome",
	},
	[]string{"outcome"},
)

// responseRecorder buffers the handler's response so it can be stored
// before anything reaches the client.
type responseRecorder struct {
	header     http.Header
	body       bytes.Buffer
	statusCode int
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), statusCode: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(statusCode int) { r.statusCode = statusCode }

func (r *responseRecorder) Write(p []byte) (int, error) { return r.body.Write(p) }

// Middleware deduplicates POST and PATCH requests carrying an
// Idempotency-Key header. The key is scoped to method plus full request
// path, so the same key may be reused across endpoints. When two requests
// race on the same key, the loser discards its own response and replays
// the winner's.
func Middleware(repo Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderName)
			if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPatch) {
				next.ServeHTTP(w, r)
				return
			}

			logger := ctxlog.FromContext(r.Context())
			path := r.URL.RequestURI()

			existing, err := repo.Get(r.Context(), key, r.Method, path)
			switch {
			case err == nil:
				requestsDeduped.WithLabelValues("replay").Inc()
				writeStored(w, existing)
				return
			case !errors.Is(err, ErrNotFound):
				// Lookup failure must not block the request.
				logger.Error("idempotency lookup failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			recorder := newResponseRecorder()
			next.ServeHTTP(recorder, r)

			record := &Record{
				Key:          key,
				Method:       r.Method,
				Path:         path,
				StatusCode:   recorder.statusCode,
				ResponseBody: recorder.body.Bytes(),
			}

			if err := repo.Create(r.Context(), record); err != nil {
				if errors.Is(err, ErrDuplicate) {
					// Another request stored the response before we could.
					winner, getErr := repo.Get(r.Context(), key, r.Method, path)
					if getErr == nil {
						requestsDeduped.WithLabelValues("race_lost").Inc()
						writeStored(w, winner)
						return
					}
					logger.Error("idempotency winner lookup failed", "error", getErr)
				} else {
					logger.Error("idempotency store failed", "error", err)
				}
			} else {
				requestsDeduped.WithLabelValues("stored").Inc()
			}

			writeRecorded(w, recorder)
		})
	}
}

func writeStored(w http.ResponseWriter, record *Record) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(record.StatusCode)
	_, _ = w.Write(record.ResponseBody)
}

func writeRecorded(w http.ResponseWriter, recorder *responseRecorder) {
	for name, values := range recorder.header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(recorder.statusCode)
	_, _ = w.Write(recorder.body.Bytes())
}
