package stream

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/statusbeacon/statusbeacon/internal/pkg/ctxlog"
)

// DefaultHeartbeatInterval keeps idle SSE connections alive through
// proxies that time out silent streams.
const DefaultHeartbeatInterval = 15 * time.Second

// Handler exposes the broadcaster channels over server-sent events.
type Handler struct {
	broadcaster *Broadcaster
	heartbeat   time.Duration
}

func NewHandler(broadcaster *Broadcaster, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Handler{broadcaster: broadcaster, heartbeat: heartbeat}
}

// RegisterAdminRoutes mounts the full-visibility stream.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/stream", h.streamChannel(ChannelAdmin))
}

// RegisterPublicRoutes mounts the public-incident stream.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/stream", h.streamChannel(ChannelPublic))
}

func (h *Handler) streamChannel(channel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		events, cancel, err := h.broadcaster.Subscribe(channel, lastSeenID(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		defer cancel()

		// The server's write timeout would sever long-lived streams.
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
			ctxlog.FromContext(r.Context()).Debug("failed to clear write deadline", "error", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		logger := ctxlog.FromContext(r.Context())
		logger.Debug("stream subscriber connected", "channel", channel)

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				logger.Debug("stream subscriber disconnected", "channel", channel)
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case event, open := <-events:
				if !open {
					return
				}
				if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, event.Data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// lastSeenID reads the client's resume position from the Last-Event-ID
// header, falling back to the last_event_id query parameter. Anything
// that does not parse as an id means "from now on".
func lastSeenID(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
