package status

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/statusbeacon/statusbeacon/internal/incidents"
	"github.com/statusbeacon/statusbeacon/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: incidents.ErrIncidentNotFound, Status: http.StatusNotFound},
}

// Handler serves the unauthenticated status page endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers public status routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.PublicStatus)
	r.With(httputil.ValidateUUIDParam("id")).Get("/incidents/{id}", h.PublicIncident)
}

// PublicStatus handles GET /status.
func (h *Handler) PublicStatus(w http.ResponseWriter, r *http.Request) {
	payload, err := h.service.PublicStatus(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.JSON(w, http.StatusOK, payload)
}

// PublicIncidentResponse is the public incident detail body.
type PublicIncidentResponse struct {
	Incident incidents.IncidentPayload `json:"incident"`
	Updates  []incidents.UpdatePayload `json:"updates"`
}

// PublicIncident handles GET /incidents/{id}.
func (h *Handler) PublicIncident(w http.ResponseWriter, r *http.Request) {
	incident, updates, err := h.service.PublicIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.JSON(w, http.StatusOK, PublicIncidentResponse{
		Incident: incidents.NewIncidentPayload(incident),
		Updates:  incidents.NewUpdatePayloads(updates),
	})
}
