package notifications

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/statusbeacon/statusbeacon/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrSubscriberNotFound, Status: http.StatusNotFound},
	{Error: ErrDuplicateSubscriber, Status: http.StatusConflict},
	{Error: ErrIncidentRequired, Status: http.StatusBadRequest},
	{Error: ErrUnknownScope, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for subscriber management.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterPublicRoutes registers the open subscription endpoint.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/subscribers", h.Subscribe)
}

// RegisterAdminRoutes registers subscriber administration endpoints.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/subscribers", h.ListSubscribers)
	r.With(httputil.ValidateUUIDParam("id")).Delete("/subscribers/{id}", h.Unsubscribe)
}

// SubscribeRequest represents request body for creating a subscriber.
type SubscribeRequest struct {
	Email      string  `json:"email" validate:"required,email,max=255"`
	Scope      string  `json:"scope" validate:"omitempty,oneof=GLOBAL INCIDENT"`
	IncidentID *string `json:"incident_id"`
}

// SubscriberPayload is the wire representation of a subscriber.
type SubscriberPayload struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Scope      string    `json:"scope"`
	IncidentID *string   `json:"incident_id,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

func newSubscriberPayload(subscriber *domain.Subscriber) SubscriberPayload {
	return SubscriberPayload{
		ID:         subscriber.ID,
		Email:      subscriber.Email,
		Scope:      string(subscriber.Scope),
		IncidentID: subscriber.IncidentID,
		IsActive:   subscriber.IsActive,
		CreatedAt:  subscriber.CreatedAt,
	}
}

// Subscribe handles POST /subscribers.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	subscriber, err := h.service.Subscribe(r.Context(), SubscribeInput{
		Email:      req.Email,
		Scope:      domain.SubscriberScope(req.Scope),
		IncidentID: req.IncidentID,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusCreated, newSubscriberPayload(subscriber))
}

// ListSubscribers handles GET /subscribers.
func (h *Handler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	subscribers, err := h.service.ListSubscribers(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	payloads := make([]SubscriberPayload, 0, len(subscribers))
	for _, subscriber := range subscribers {
		payloads = append(payloads, newSubscriberPayload(subscriber))
	}
	httputil.JSON(w, http.StatusOK, payloads)
}

// Unsubscribe handles DELETE /subscribers/{id}.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unsubscribe(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
