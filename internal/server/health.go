package server

import "net/http"

type healthResponse struct {
	Status       string            `json:"status"`
	Mode         string            `json:"mode"`
	Capabilities map[string]string `json:"capabilities"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	caps := h.d.Capabilities
	if caps == nil {
		caps = map[string]string{}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Mode: h.d.Mode, Capabilities: caps})
}
