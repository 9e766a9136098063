package handler

import (
	"net/http"

	"github.com/xgaming627/chatter-nexus/internal/config"
)

// ConfigHandler serves the public configuration endpoints (no auth).
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetPushConfig returns the public VAPID key when push is enabled.
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PushServiceURL == "" || h.cfg.PushVAPIDPublicKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.cfg.PushVAPIDPublicKey,
	})
}

// GetCallConfig returns ICE servers and the ring window for clients.
func (h *ConfigHandler) GetCallConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ice_servers":          h.cfg.CallICEServers,
		"ring_timeout_seconds": int(h.cfg.RingTimeout().Seconds()),
	})
}
