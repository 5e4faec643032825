package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

// MemoryStore is an in-memory Store used in tests and when no data
// directory is configured.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]types.Session
	utterances map[string]types.Utterance
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]types.Session),
		utterances: make(map[string]types.Utterance),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) SaveSummary(_ context.Context, sessionID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Summary = summary
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) Append(_ context.Context, u types.Utterance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utterances[u.ID] = u
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, utteranceID string, update StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.utterances[utteranceID]
	if !ok {
		return ErrNotFound
	}
	u.Status = update.Status
	if update.RawTranscript != nil {
		u.RawTranscript = *update.RawTranscript
	}
	if update.CleanedMeaning != nil {
		u.CleanedMeaning = *update.CleanedMeaning
	}
	if update.PromptReady != nil {
		u.PromptReady = *update.PromptReady
	}
	if update.RiskLevel != nil {
		u.RiskLevel = *update.RiskLevel
	}
	if update.DetectedLangs != nil {
		u.DetectedLangs = update.DetectedLangs
	}
	if update.Entities != nil {
		u.Entities = update.Entities
	}
	u.UpdatedAt = time.Now()
	m.utterances[utteranceID] = u
	return nil
}

func (m *MemoryStore) ListReady(_ context.Context, sessionID string, beforeSeq int64, limit int) ([]types.Utterance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Utterance
	for _, u := range m.utterances {
		if u.SessionID == sessionID && u.Status == types.StatusReady && u.SequenceNum < beforeSeq {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNum < out[j].SequenceNum })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// Get returns a stored utterance by id. Test helper.
func (m *MemoryStore) Get(utteranceID string) (types.Utterance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.utterances[utteranceID]
	return u, ok
}

// Session returns a stored session by id. Test helper.
func (m *MemoryStore) Session(sessionID string) (types.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}
