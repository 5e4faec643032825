// Package server assembles the HTTP surface: the /ws live endpoint, health
// probes, and Prometheus metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Edwinswanith/Multiaudio/pkg/core/llm"
	"github.com/Edwinswanith/Multiaudio/pkg/core/memory"
	"github.com/Edwinswanith/Multiaudio/pkg/core/store"
	"github.com/Edwinswanith/Multiaudio/pkg/core/stt"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/config"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/handlers"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/lifecycle"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/live/session"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/live/sessions"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/metrics"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/mw"
)

// Dependencies lets callers swap the provider-facing pieces, mostly for
// tests. Nil fields are built from the config.
type Dependencies struct {
	Store      store.Store
	Metrics    *metrics.Metrics
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	DialSTT    session.SttDialer
	Processor  session.Processor
	Summarizer memory.Summarizer
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store     store.Store
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	sessions  *sessions.Registry
	lifecycle *lifecycle.Lifecycle
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(deps.Registerer)
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if deps.Processor == nil {
		orch := llm.NewOrchestrator(
			llm.NewProvider(cfg.LLM.APIKey, llm.WithBaseURL(cfg.LLM.BaseURL), llm.WithModel(cfg.LLM.Model)),
			llm.Config{
				Timeout:   cfg.LLM.Timeout(),
				CacheSize: cfg.LLM.CacheSize,
				Retries:   deps.Metrics.LLMRetries,
				CacheHits: deps.Metrics.LLMCacheHits,
				Duration:  deps.Metrics.LLMDuration,
			},
			logger,
		)
		deps.Processor = orch
		if deps.Summarizer == nil {
			deps.Summarizer = orch
		}
	}
	if deps.DialSTT == nil {
		deps.DialSTT = func(ctx context.Context) (session.SttStream, error) {
			bridge, err := stt.Open(ctx, stt.Config{
				BaseWSURL:        cfg.STT.BaseWSURL,
				APIKey:           cfg.STT.APIKey,
				ModelID:          cfg.STT.ModelID,
				SampleRate:       cfg.STT.SampleRate,
				ReplayWindow:     cfg.STT.ReplayWindow(),
				MaxRetries:       cfg.STT.MaxRetries,
				BackoffBase:      cfg.STT.BackoffBase(),
				ReconnectCounter: deps.Metrics.STTReconnects,
			}, logger)
			if err != nil {
				return nil, err
			}
			return bridge, nil
		}
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		store:     deps.Store,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		sessions:  sessions.NewRegistry(),
		lifecycle: &lifecycle.Lifecycle{},
	}

	s.routes(deps)
	return s
}

func (s *Server) routes(deps Dependencies) {
	s.mux.Handle("/healthz", handlers.HealthHandler{Config: s.cfg})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.mux.Handle("/ws", handlers.LiveHandler{
		Config:       s.cfg,
		Store:        s.store,
		Metrics:      s.metrics,
		Logger:       s.logger,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.sessions,
		DialSTT:      deps.DialSTT,
		Processor:    deps.Processor,
		Summarizer:   deps.Summarizer,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Sessions exposes the live session registry, mainly for shutdown and
// tests.
func (s *Server) Sessions() *sessions.Registry { return s.sessions }

// Shutdown drains the server: readiness starts failing, every live session
// is canceled, and the call blocks until they settle or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.lifecycle.StartDraining()
	canceled := s.sessions.CancelAll()
	if canceled > 0 {
		s.logger.Info("canceling live sessions", "count", canceled)
	}
	if !s.sessions.Wait(ctx) {
		s.logger.Warn("live sessions did not settle before deadline", "remaining", s.sessions.Count())
		return ctx.Err()
	}
	return s.store.Close()
}
