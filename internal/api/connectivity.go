package api

import (
	"encoding/json"
	"net/http"
)

// ConnectivityStatus reports the current online flag.
func (h *Handler) ConnectivityStatus(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]bool{"online": h.monitor.Online()})
}

// ReportConnectivity lets clients report observed connectivity transitions.
// Subscribers (the sync flush among them) fire only on actual changes.
func (h *Handler) ReportConnectivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		Error(w, http.StatusBadRequest, "online flag required")
		return
	}
	h.monitor.SetOnline(*body.Online)
	JSON(w, http.StatusOK, map[string]bool{"online": h.monitor.Online()})
}
