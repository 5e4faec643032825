package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Edwinswanith/Multiaudio/pkg/core/memory"
	"github.com/Edwinswanith/Multiaudio/pkg/core/store"
	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/config"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/lifecycle"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/live/session"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/live/sessions"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/metrics"
)

// LiveHandler upgrades /ws requests and runs one live session per
// connection.
type LiveHandler struct {
	Config       config.Config
	Store        store.Store
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Registry

	DialSTT    session.SttDialer
	Processor  session.Processor
	Summarizer memory.Summarizer
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}

	mode := types.ModeBalanced
	if raw := r.URL.Query().Get("mode"); raw != "" {
		parsed, err := types.ParseMode(raw)
		if err != nil {
			http.Error(w, "unsupported mode", http.StatusBadRequest)
			return
		}
		mode = parsed
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := types.Session{
		ID:            uuid.NewString(),
		Mode:          mode,
		MemoryEnabled: h.Config.Memory.Enabled,
		CreatedAt:     time.Now(),
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	memCfg := memory.Config{
		RefreshInterval:  int64(h.Config.Memory.RefreshInterval),
		MaxSummaryLength: h.Config.Memory.MaxSummaryLength,
		RefreshWait:      h.Config.Memory.RefreshWait(),
	}
	if h.Metrics != nil {
		memCfg.Refreshes = h.Metrics.SummaryRefresh
		memCfg.RefreshErrors = h.Metrics.SummaryErrors
	}
	mem := memory.NewManager(h.Store, h.Summarizer, sess, memCfg, logger)

	coord, err := session.New(session.Dependencies{
		Session:   sess,
		Store:     h.Store,
		DialSTT:   h.DialSTT,
		Processor: h.Processor,
		Memory:    mem,
		Metrics:   h.Metrics,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("build coordinator failed", "error", err)
		return
	}

	shell, err := session.NewShell(session.ShellDependencies{
		Conn:        conn,
		Coordinator: coord,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("build session shell failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unregister := h.LiveSessions.Register(sess.ID, sessions.Handle{Cancel: cancel})
	defer unregister()

	if h.Metrics != nil {
		h.Metrics.ActiveSessions.Inc()
		defer h.Metrics.ActiveSessions.Dec()
	}

	if err := shell.Run(ctx); err != nil {
		logger.Warn("live session ended with error", "session_id", sess.ID, "error", err)
	}
}
