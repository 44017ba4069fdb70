package postmortems

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/statusbeacon/statusbeacon/internal/incidents"
	"github.com/statusbeacon/statusbeacon/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: incidents.ErrIncidentNotFound, Status: http.StatusNotFound},
	{Error: ErrPostmortemNotFound, Status: http.StatusNotFound},
	{Error: ErrActionItemNotFound, Status: http.StatusNotFound},
	{Error: ErrPostmortemExists, Status: http.StatusBadRequest},
	{Error: ErrUnknownActionStatus, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the postmortems module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new postmortems handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers admin postmortem routes nested under an
// incident.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents/{id}/postmortem", func(r chi.Router) {
		r.Use(httputil.ValidateUUIDParam("id"))
		r.Get("/", h.GetPostmortem)
		r.Post("/", h.CreatePostmortem)
		r.Patch("/", h.UpdatePostmortem)
		r.Post("/publish", h.Publish)
		r.Get("/export", h.Export)
		r.Route("/action-items", func(r chi.Router) {
			r.Get("/", h.ListActionItems)
			r.Post("/", h.CreateActionItem)
			r.With(httputil.ValidateUUIDParam("itemID")).Patch("/{itemID}", h.UpdateActionItem)
		})
	})
}

// RegisterPublicRoutes registers the published-only public view.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.With(httputil.ValidateUUIDParam("id")).Get("/incidents/{id}/postmortem", h.PublicPostmortem)
}

// PostmortemRequest represents draft content for create and patch.
type PostmortemRequest struct {
	Summary        *string `json:"summary"`
	Impact         *string `json:"impact"`
	RootCause      *string `json:"root_cause"`
	Detection      *string `json:"detection"`
	Resolution     *string `json:"resolution"`
	LessonsLearned *string `json:"lessons_learned"`
}

// PublishRequest represents request body for publishing.
type PublishRequest struct {
	ActorName string `json:"actor_name"`
}

// ActionItemRequest represents request body for creating an action item.
type ActionItemRequest struct {
	Title     string     `json:"title" validate:"required,max=255"`
	OwnerName string     `json:"owner_name" validate:"required,max=255"`
	DueDate   *time.Time `json:"due_date"`
	Status    string     `json:"status" validate:"omitempty,oneof=OPEN IN_PROGRESS DONE"`
}

// ActionItemPatchRequest represents a partial action item update.
type ActionItemPatchRequest struct {
	Title     *string    `json:"title" validate:"omitempty,max=255"`
	OwnerName *string    `json:"owner_name" validate:"omitempty,max=255"`
	DueDate   *time.Time `json:"due_date"`
	Status    *string    `json:"status" validate:"omitempty,oneof=OPEN IN_PROGRESS DONE"`
}

// PostmortemPayload is the wire form of a postmortem.
type PostmortemPayload struct {
	ID             string     `json:"id"`
	IncidentID     string     `json:"incident"`
	Summary        string     `json:"summary"`
	Impact         string     `json:"impact"`
	RootCause      string     `json:"root_cause"`
	Detection      string     `json:"detection"`
	Resolution     string     `json:"resolution"`
	LessonsLearned string     `json:"lessons_learned"`
	Published      bool       `json:"published"`
	PublishedAt    *time.Time `json:"published_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewPostmortemPayload maps a postmortem to its wire form.
func NewPostmortemPayload(postmortem *domain.Postmortem) PostmortemPayload {
	return PostmortemPayload{
		ID:             postmortem.ID,
		IncidentID:     postmortem.IncidentID,
		Summary:        postmortem.Summary,
		Impact:         postmortem.Impact,
		RootCause:      postmortem.RootCause,
		Detection:      postmortem.Detection,
		Resolution:     postmortem.Resolution,
		LessonsLearned: postmortem.LessonsLearned,
		Published:      postmortem.Published,
		PublishedAt:    postmortem.PublishedAt,
		CreatedAt:      postmortem.CreatedAt,
		UpdatedAt:      postmortem.UpdatedAt,
	}
}

// ActionItemPayload is the wire form of an action item.
type ActionItemPayload struct {
	ID           string     `json:"id"`
	PostmortemID string     `json:"postmortem"`
	Title        string     `json:"title"`
	OwnerName    string     `json:"owner_name"`
	DueDate      *time.Time `json:"due_date"`
	Status       string     `json:"status"`
}

func newActionItemPayload(item *domain.ActionItem) ActionItemPayload {
	return ActionItemPayload{
		ID:           item.ID,
		PostmortemID: item.PostmortemID,
		Title:        item.Title,
		OwnerName:    item.OwnerName,
		DueDate:      item.DueDate,
		Status:       string(item.Status),
	}
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// CreatePostmortem handles POST /incidents/{id}/postmortem.
func (h *Handler) CreatePostmortem(w http.ResponseWriter, r *http.Request) {
	var req PostmortemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	postmortem, err := h.service.Create(r.Context(), chi.URLParam(r, "id"), PostmortemInput{
		Summary:        str(req.Summary),
		Impact:         str(req.Impact),
		RootCause:      str(req.RootCause),
		Detection:      str(req.Detection),
		Resolution:     str(req.Resolution),
		LessonsLearned: str(req.LessonsLearned),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusCreated, NewPostmortemPayload(postmortem))
}

// GetPostmortem handles GET /incidents/{id}/postmortem.
func (h *Handler) GetPostmortem(w http.ResponseWriter, r *http.Request) {
	postmortem, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, NewPostmortemPayload(postmortem))
}

// UpdatePostmortem handles PATCH /incidents/{id}/postmortem.
func (h *Handler) UpdatePostmortem(w http.ResponseWriter, r *http.Request) {
	var req PostmortemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	postmortem, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), PostmortemPatch{
		Summary:        req.Summary,
		Impact:         req.Impact,
		RootCause:      req.RootCause,
		Detection:      req.Detection,
		Resolution:     req.Resolution,
		LessonsLearned: req.LessonsLearned,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, NewPostmortemPayload(postmortem))
}

// Publish handles POST /incidents/{id}/postmortem/publish.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if r.Body != nil {
		// Body is optional, actor falls back to "system".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	postmortem, err := h.service.Publish(r.Context(), chi.URLParam(r, "id"), req.ActorName)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, NewPostmortemPayload(postmortem))
}

// Export handles GET /incidents/{id}/postmortem/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	filename, content, err := h.service.ExportMarkdown(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.Header().Set("Content-Type", "text/markdown")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content))
}

// PublicPostmortem handles GET /incidents/{id}/postmortem on the public
// router.
func (h *Handler) PublicPostmortem(w http.ResponseWriter, r *http.Request) {
	postmortem, err := h.service.PublicPostmortem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, NewPostmortemPayload(postmortem))
}

// ListActionItems handles GET /incidents/{id}/postmortem/action-items.
func (h *Handler) ListActionItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListActionItems(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	payloads := make([]ActionItemPayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, newActionItemPayload(item))
	}
	httputil.JSON(w, http.StatusOK, payloads)
}

// CreateActionItem handles POST /incidents/{id}/postmortem/action-items.
func (h *Handler) CreateActionItem(w http.ResponseWriter, r *http.Request) {
	var req ActionItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	item, err := h.service.AddActionItem(r.Context(), chi.URLParam(r, "id"), ActionItemInput{
		Title:     req.Title,
		OwnerName: req.OwnerName,
		DueDate:   req.DueDate,
		Status:    domain.ActionItemStatus(req.Status),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusCreated, newActionItemPayload(item))
}

// UpdateActionItem handles PATCH /incidents/{id}/postmortem/action-items/{itemID}.
func (h *Handler) UpdateActionItem(w http.ResponseWriter, r *http.Request) {
	var req ActionItemPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	patch := ActionItemPatch{
		Title:     req.Title,
		OwnerName: req.OwnerName,
		DueDate:   req.DueDate,
	}
	if req.Status != nil {
		status := domain.ActionItemStatus(*req.Status)
		patch.Status = &status
	}

	item, err := h.service.UpdateActionItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemID"), patch)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, newActionItemPayload(item))
}
