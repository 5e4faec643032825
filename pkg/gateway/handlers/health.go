package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Edwinswanith/Multiaudio/pkg/gateway/config"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/lifecycle"
)

// HealthHandler reports liveness plus which provider keys are configured,
// so an operator can tell a booted-but-unconfigured process apart from a
// healthy one.
type HealthHandler struct {
	Config config.Config
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type healthResp struct {
		Status           string `json:"status"`
		STTKeyConfigured bool   `json:"stt_key_configured"`
		LLMKeyConfigured bool   `json:"llm_key_configured"`
		MemoryEnabled    bool   `json:"memory_enabled"`
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResp{
		Status:           "ok",
		STTKeyConfigured: strings.TrimSpace(h.Config.STT.APIKey) != "",
		LLMKeyConfigured: strings.TrimSpace(h.Config.LLM.APIKey) != "",
		MemoryEnabled:    h.Config.Memory.Enabled,
	})
}

// ReadyHandler fails once the process starts draining or when the
// configuration cannot serve sessions.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK              bool     `json:"ok"`
		Issues          []string `json:"issues,omitempty"`
		DrainingSeconds float64  `json:"draining_seconds,omitempty"`
	}

	issues := make([]string, 0, 3)
	if h.Lifecycle.IsDraining() {
		issues = append(issues, "draining")
	}
	if strings.TrimSpace(h.Config.STT.APIKey) == "" {
		issues = append(issues, "stt api key is not configured")
	}
	if strings.TrimSpace(h.Config.LLM.APIKey) == "" {
		issues = append(issues, "llm api key is not configured")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:              ok,
		Issues:          issues,
		DrainingSeconds: h.Lifecycle.DrainingFor().Seconds(),
	})
}
