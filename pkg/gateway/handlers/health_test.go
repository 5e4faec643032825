package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Edwinswanith/Multiaudio/pkg/gateway/config"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/lifecycle"
)

func TestHealthReportsKeyConfiguration(t *testing.T) {
	cfg := *config.Default()
	cfg.STT.APIKey = "el-key"
	cfg.LLM.APIKey = ""

	rec := httptest.NewRecorder()
	HealthHandler{Config: cfg}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status           string `json:"status"`
		STTKeyConfigured bool   `json:"stt_key_configured"`
		LLMKeyConfigured bool   `json:"llm_key_configured"`
		MemoryEnabled    bool   `json:"memory_enabled"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status field = %q", body.Status)
	}
	if !body.STTKeyConfigured || body.LLMKeyConfigured {
		t.Fatalf("key flags = stt:%v llm:%v, want stt:true llm:false", body.STTKeyConfigured, body.LLMKeyConfigured)
	}
	if !body.MemoryEnabled {
		t.Fatal("memory_enabled = false, want true by default")
	}
}

func TestReadyFailsWithoutProviderKeys(t *testing.T) {
	cfg := *config.Default()

	rec := httptest.NewRecorder()
	ReadyHandler{Config: cfg, Lifecycle: &lifecycle.Lifecycle{}}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestReadyFailsWhileDraining(t *testing.T) {
	cfg := *config.Default()
	cfg.STT.APIKey = "el-key"
	cfg.LLM.APIKey = "gm-key"

	lc := &lifecycle.Lifecycle{}

	rec := httptest.NewRecorder()
	ReadyHandler{Config: cfg, Lifecycle: lc}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status before drain = %d, want 200", rec.Code)
	}

	lc.StartDraining()
	rec = httptest.NewRecorder()
	ReadyHandler{Config: cfg, Lifecycle: lc}.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status while draining = %d, want 503", rec.Code)
	}

	var body struct {
		Issues          []string `json:"issues"`
		DrainingSeconds float64  `json:"draining_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Issues) != 1 || body.Issues[0] != "draining" {
		t.Fatalf("issues = %v, want [draining]", body.Issues)
	}
	if body.DrainingSeconds < 0 {
		t.Fatalf("draining_seconds = %v", body.DrainingSeconds)
	}
}
