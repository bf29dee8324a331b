package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joseph-ayodele/imagetext/constants"
	"github.com/joseph-ayodele/imagetext/internal/common"
)

func (h *handlers) results(w http.ResponseWriter, r *http.Request) {
	if h.d.Status == nil {
		h.writeError(w, r, unavailable("job status"))
		return
	}
	jobID := chi.URLParam(r, "job_id")
	view, err := h.d.Status.Status(common.WithJobID(r.Context(), jobID), jobID)
	if errors.Is(err, common.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": constants.NotFoundStatus})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
