package server

import (
	"encoding/json"
	"net/http"

	"github.com/joseph-ayodele/imagetext/internal/common"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and a short message. Internal
// details stay in the logs.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := common.HTTPStatus(err)
	msg := common.PublicMessage(err)
	log := common.LoggerFrom(r.Context(), h.d.Logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		log.Warn("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func unavailable(what string) error {
	return common.Unavailable(what, "not wired in this process")
}
