// Package memory builds the bounded conversational context supplied to each
// cleanup request and maintains the rolling session summary.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Edwinswanith/Multiaudio/pkg/core/store"
	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

// Summarizer produces an updated rolling summary from the previous one and
// the raw transcripts accumulated since the last refresh.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, transcripts []string) (string, error)
}

// Config tunes the refresh policy. Zero values take defaults.
type Config struct {
	// RefreshInterval is the utterance count step at which a summary
	// refresh fires. Default 5.
	RefreshInterval int64
	// MaxSummaryLength caps the stored summary in runes. Default 500.
	MaxSummaryLength int
	// RefreshWait bounds how long packet building blocks on an in-flight
	// refresh before proceeding with the stale summary. Default 3s.
	RefreshWait time.Duration
	// RefreshTimeout bounds the summarization call itself. Default 10s.
	RefreshTimeout time.Duration

	// Optional instrumentation; nil fields are skipped.
	Refreshes     prometheus.Counter
	RefreshErrors prometheus.Counter
}

func (c *Config) applyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5
	}
	if c.MaxSummaryLength <= 0 {
		c.MaxSummaryLength = 500
	}
	if c.RefreshWait <= 0 {
		c.RefreshWait = 3 * time.Second
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 10 * time.Second
	}
}

// Manager holds memory state for one session. The summary is written only by
// the serialized refresh path and read by every packet build.
type Manager struct {
	store      store.Store
	summarizer Summarizer
	cfg        Config
	logger     *slog.Logger

	sessionID string
	enabled   bool

	mu         sync.Mutex
	summary    string
	readyCount int64
	lastFired  int64
	pending    []string      // raw transcripts since the last refresh
	inflight   chan struct{} // closed when the running refresh settles

	wg sync.WaitGroup
}

// NewManager returns a memory manager for the given session, seeded with any
// summary the session already carries.
func NewManager(st store.Store, summ Summarizer, session types.Session, cfg Config, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      st,
		summarizer: summ,
		cfg:        cfg,
		logger:     logger.With("session_id", session.ID),
		sessionID:  session.ID,
		enabled:    session.MemoryEnabled,
		summary:    session.Summary,
	}
}

// BuildPacket assembles the context for the utterance at excludingSeq: the
// current summary snapshot plus up to MaxMemoryTurns Ready utterances with a
// lower sequence number. If a refresh is in flight it waits up to RefreshWait
// for the fresher summary, then proceeds with whatever it has.
func (m *Manager) BuildPacket(ctx context.Context, excludingSeq int64) (types.MemoryPacket, error) {
	if !m.enabled {
		return types.MemoryPacket{}, nil
	}

	m.mu.Lock()
	inflight := m.inflight
	m.mu.Unlock()
	if inflight != nil {
		timer := time.NewTimer(m.cfg.RefreshWait)
		select {
		case <-inflight:
			timer.Stop()
		case <-timer.C:
			m.logger.Warn("summary refresh still running, using stale summary")
		case <-ctx.Done():
			timer.Stop()
			return types.MemoryPacket{}, ctx.Err()
		}
	}

	ready, err := m.store.ListReady(ctx, m.sessionID, excludingSeq, types.MaxMemoryTurns)
	if err != nil {
		return types.MemoryPacket{}, err
	}
	turns := make([]types.MemoryTurn, 0, len(ready))
	for _, u := range ready {
		turns = append(turns, types.MemoryTurn{
			SequenceNum:   u.SequenceNum,
			RawTranscript: u.RawTranscript,
			Cleaned:       u.CleanedMeaning,
			PromptReady:   u.PromptReady,
		})
	}

	m.mu.Lock()
	summary := m.summary
	m.mu.Unlock()
	return types.MemoryPacket{Summary: summary, Turns: turns}, nil
}

// NoteReady records that an utterance settled as Ready. When the count
// reaches a fresh positive multiple of the refresh interval, a summary
// refresh fires in the background. Each multiple fires at most once.
func (m *Manager) NoteReady(u types.Utterance) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	m.readyCount++
	m.pending = append(m.pending, u.RawTranscript)
	fire := m.readyCount%m.cfg.RefreshInterval == 0 &&
		m.readyCount > m.lastFired &&
		m.inflight == nil
	if !fire {
		m.mu.Unlock()
		return
	}
	m.lastFired = m.readyCount
	transcripts := m.pending
	m.pending = nil
	previous := m.summary
	done := make(chan struct{})
	m.inflight = done
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			m.inflight = nil
			m.mu.Unlock()
			close(done)
		}()
		m.refresh(previous, transcripts)
	}()
}

// refresh runs one summarization round. Failure is non-fatal: the stale
// summary stays in place and processing continues.
func (m *Manager) refresh(previous string, transcripts []string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RefreshTimeout)
	defer cancel()

	updated, err := m.summarizer.Summarize(ctx, previous, transcripts)
	if err != nil {
		m.logger.Warn("summary refresh failed, keeping stale summary", "error", err)
		if m.cfg.RefreshErrors != nil {
			m.cfg.RefreshErrors.Inc()
		}
		return
	}
	if m.cfg.Refreshes != nil {
		m.cfg.Refreshes.Inc()
	}
	updated = truncateRunes(updated, m.cfg.MaxSummaryLength)

	m.mu.Lock()
	m.summary = updated
	m.mu.Unlock()

	if err := m.store.SaveSummary(ctx, m.sessionID, updated); err != nil {
		m.logger.Warn("summary persist failed", "error", err)
	}
}

// Clear drops the summary and all refresh bookkeeping.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.summary = ""
	m.pending = nil
	m.readyCount = 0
	m.lastFired = 0
	m.mu.Unlock()
	if !m.enabled {
		return nil
	}
	return m.store.SaveSummary(ctx, m.sessionID, "")
}

// Summary returns the current summary snapshot.
func (m *Manager) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// Wait blocks until any in-flight refresh settles. Used on session teardown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// truncateRunes cuts s to at most n runes, never splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i, count := 0, 0
	for i = range s {
		if count == n {
			break
		}
		count++
	}
	return s[:i]
}
