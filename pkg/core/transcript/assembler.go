// Package transcript turns the bridge's event stream into committed
// utterances: partials maintain a transient live view, and each spoken
// segment settles into exactly one utterance.
package transcript

import (
	"context"
	"fmt"
	"sync"

	"github.com/Edwinswanith/Multiaudio/pkg/core/store"
	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

// Assembler commits exactly one settled utterance per spoken segment.
// Nothing is persisted until the Final arrives; a discarded attempt leaves
// no trace and consumes no sequence number.
type Assembler struct {
	store store.Store

	mu        sync.Mutex
	open      *types.Utterance
	live      string
	committed map[string]struct{}
}

// New returns an assembler backed by the given store.
func New(st store.Store) *Assembler {
	return &Assembler{
		store:     st,
		committed: make(map[string]struct{}),
	}
}

// Begin opens transcript accumulation for u. At most one utterance may be
// open at a time; the sequence number is assigned later, at commit.
func (a *Assembler) Begin(u types.Utterance) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open != nil {
		return fmt.Errorf("utterance %s is still transcribing", a.open.ID)
	}
	if u.Status != types.StatusTranscribing {
		return fmt.Errorf("utterance %s has status %s, want transcribing", u.ID, u.Status)
	}
	cp := u
	a.open = &cp
	a.live = ""
	return nil
}

// OnPartial replaces the live view for the open utterance. It never touches
// the store. Partials without an open utterance are dropped.
func (a *Assembler) OnPartial(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open == nil {
		return
	}
	a.live = text
}

// Live returns the current transient view of the open utterance.
func (a *Assembler) Live() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Open reports the identity of the utterance currently accumulating, if any.
func (a *Assembler) Open() (types.Utterance, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open == nil {
		return types.Utterance{}, false
	}
	return *a.open, true
}

// OnFinal commits the settled transcript: the utterance takes the given
// sequence number, moves to Processing, and is persisted for the first
// time. The committed utterance is returned exactly once; a duplicate Final
// after commit (provider retransmission) or a Final after cancellation is
// reported with ok=false.
func (a *Assembler) OnFinal(ctx context.Context, seq int64, text, language string) (types.Utterance, bool, error) {
	a.mu.Lock()
	if a.open == nil {
		a.mu.Unlock()
		return types.Utterance{}, false, nil
	}
	u := *a.open
	if _, dup := a.committed[u.ID]; dup {
		a.mu.Unlock()
		return types.Utterance{}, false, nil
	}
	a.mu.Unlock()

	u.SequenceNum = seq
	u.RawTranscript = text
	u.Status = types.StatusProcessing
	if language != "" {
		u.DetectedLangs = []string{language}
	}
	if err := a.store.Append(ctx, u); err != nil {
		return types.Utterance{}, false, fmt.Errorf("commit utterance %s: %w", u.ID, err)
	}

	a.mu.Lock()
	a.committed[u.ID] = struct{}{}
	a.open = nil
	a.live = ""
	a.mu.Unlock()
	return u, true, nil
}

// Discard drops the in-flight attempt without committing. Returns the
// discarded utterance identity, if one was open.
func (a *Assembler) Discard() (types.Utterance, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open == nil {
		return types.Utterance{}, false
	}
	u := *a.open
	a.open = nil
	a.live = ""
	return u, true
}
