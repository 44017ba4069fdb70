package httputil

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ValidateUUIDParam returns middleware that rejects requests whose named
// URL parameter is not a valid UUID. A malformed identifier can never
// match a row, so it is reported as not found rather than as a bad
// request.
func ValidateUUIDParam(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, name := range names {
				if _, err := uuid.Parse(chi.URLParam(r, name)); err != nil {
					Error(w, http.StatusNotFound, "not found")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
