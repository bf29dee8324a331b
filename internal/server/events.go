package server

import (
	"io"
	"net/http"

	"github.com/joseph-ayodele/imagetext/internal/common"
	"github.com/joseph-ayodele/imagetext/internal/pipeline"
	"github.com/joseph-ayodele/imagetext/internal/trigger"
)

const maxEventBytes = 1 << 20

type eventResponse struct {
	Records []pipeline.RecordResult `json:"records"`
}

// s3Event runs the worker for an S3 notification posted by an event bridge or
// an operator redriving a stuck job.
func (h *handlers) s3Event(w http.ResponseWriter, r *http.Request) {
	if h.d.Events == nil {
		h.writeError(w, r, unavailable("event processing"))
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		h.writeError(w, r, common.ValidationFailed("event body too large"))
		return
	}
	ev, err := trigger.ParseS3Event(raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	results, err := h.d.Events.HandleEvent(r.Context(), ev)
	if err != nil && len(results) == 0 {
		h.writeError(w, r, err)
		return
	}
	if err != nil {
		common.LoggerFrom(r.Context(), h.d.Logger).Warn("event records failed", "err", err)
	}
	writeJSON(w, http.StatusAccepted, eventResponse{Records: results})
}
