package incidents

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/statusbeacon/statusbeacon/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound},
	{Error: ErrInvalidActor, Status: http.StatusBadRequest},
	{Error: ErrUnknownStatus, Status: http.StatusBadRequest},
	{Error: ErrUnknownSeverity, Status: http.StatusBadRequest},
	{Error: ErrNoOpTransition, Status: http.StatusBadRequest},
	{Error: ErrIllegalTransition, Status: http.StatusBadRequest},
	{Error: ErrEmptyMessage, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers admin incident routes. The write endpoints are
// expected to sit behind the idempotency middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListIncidents)
		r.Post("/", h.CreateIncident)
		r.Get("/analytics", h.Analytics)
		r.Route("/{id}", func(r chi.Router) {
			r.Use(httputil.ValidateUUIDParam("id"))
			r.Get("/", h.GetIncident)
			r.Patch("/", h.UpdateIncident)
			r.Post("/transition", h.Transition)
			r.Get("/updates", h.ListUpdates)
			r.Post("/updates", h.PostUpdate)
		})
	})
	r.Get("/audit", h.ListAuditEvents)
}

// CreateIncidentRequest represents request body for creating an incident.
type CreateIncidentRequest struct {
	Title     string `json:"title" validate:"required,max=255"`
	Summary   string `json:"summary" validate:"required"`
	Severity  string `json:"severity" validate:"required,oneof=SEV1 SEV2 SEV3 SEV4"`
	Status    string `json:"status" validate:"omitempty,oneof=INVESTIGATING IDENTIFIED MONITORING RESOLVED"`
	IsPublic  *bool  `json:"is_public"`
	CreatedBy string `json:"created_by_name" validate:"required,max=255"`
}

// UpdateIncidentRequest represents a partial incident patch.
type UpdateIncidentRequest struct {
	Title     *string `json:"title" validate:"omitempty,max=255"`
	Summary   *string `json:"summary"`
	Severity  *string `json:"severity" validate:"omitempty,oneof=SEV1 SEV2 SEV3 SEV4"`
	Status    *string `json:"status" validate:"omitempty,oneof=INVESTIGATING IDENTIFIED MONITORING RESOLVED"`
	IsPublic  *bool   `json:"is_public"`
	ActorName string  `json:"actor_name"`
}

// TransitionRequest represents request body for a status transition.
type TransitionRequest struct {
	Status    string `json:"status" validate:"required"`
	ActorName string `json:"actor_name" validate:"required,max=255"`
	Message   string `json:"message"`
}

// PostUpdateRequest represents request body for posting an update.
type PostUpdateRequest struct {
	Message      string  `json:"message" validate:"required"`
	StatusAtTime *string `json:"status_at_time" validate:"omitempty,oneof=INVESTIGATING IDENTIFIED MONITORING RESOLVED"`
	CreatedBy    string  `json:"created_by_name" validate:"required,max=255"`
}

// ListIncidents handles GET /incidents.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := h.service.ListIncidents(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, NewIncidentPayloads(incidents))
}

// CreateIncident handles POST /incidents.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	incident, err := h.service.CreateIncident(r.Context(), CreateIncidentInput{
		Title:     req.Title,
		Summary:   req.Summary,
		Severity:  domain.Severity(req.Severity),
		Status:    domain.Status(req.Status),
		IsPublic:  isPublic,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusCreated, NewIncidentPayload(incident))
}

// GetIncident handles GET /incidents/{id}.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, NewIncidentPayload(incident))
}

// UpdateIncident handles PATCH /incidents/{id}, the administrative
// correction path. Unlike the transition endpoint it writes fields
// directly without consulting the transition graph; a status edit still
// maintains resolved_at. The actor defaults to the incident creator when
// not supplied.
func (h *Handler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	actor := req.ActorName
	if actor == "" {
		existing, err := h.service.GetIncident(r.Context(), id)
		if err != nil {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}
		actor = existing.CreatedBy
	}

	patch := UpdateIncidentPatch{
		Title:    req.Title,
		Summary:  req.Summary,
		IsPublic: req.IsPublic,
	}
	if req.Severity != nil {
		sev := domain.Severity(*req.Severity)
		patch.Severity = &sev
	}
	if req.Status != nil {
		status := domain.Status(*req.Status)
		patch.Status = &status
	}

	incident, err := h.service.UpdateIncident(r.Context(), id, patch, actor)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, NewIncidentPayload(incident))
}

// Transition handles POST /incidents/{id}/transition.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, update, err := h.service.Transition(
		r.Context(),
		chi.URLParam(r, "id"),
		domain.Status(req.Status),
		req.ActorName,
		req.Message,
	)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]any{
		"incident": NewIncidentPayload(incident),
		"update":   NewUpdatePayload(update),
	})
}

// ListUpdates handles GET /incidents/{id}/updates.
func (h *Handler) ListUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := h.service.ListUpdates(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	payloads := make([]UpdatePayload, 0, len(updates))
	for _, update := range updates {
		payloads = append(payloads, NewUpdatePayload(update))
	}
	httputil.JSON(w, http.StatusOK, payloads)
}

// PostUpdate handles POST /incidents/{id}/updates.
func (h *Handler) PostUpdate(w http.ResponseWriter, r *http.Request) {
	var req PostUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := PostUpdateInput{
		Message: req.Message,
		Author:  req.CreatedBy,
	}
	if req.StatusAtTime != nil {
		status := domain.Status(*req.StatusAtTime)
		input.StatusAtTime = &status
	}

	update, err := h.service.PostUpdate(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusCreated, NewUpdatePayload(update))
}

// ListAuditEvents handles GET /audit.
func (h *Handler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ListAuditEvents(r.Context(), 100)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	payloads := make([]AuditEventPayload, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, NewAuditEventPayload(event))
	}
	httputil.JSON(w, http.StatusOK, payloads)
}

// Analytics handles GET /incidents/analytics.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Analytics(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, NewAnalyticsPayload(summary))
}
