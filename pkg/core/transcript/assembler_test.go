package transcript

import (
	"context"
	"testing"
	"time"

	"github.com/Edwinswanith/Multiaudio/pkg/core/store"
	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

func newUtterance(id string) types.Utterance {
	return types.Utterance{
		ID:        id,
		SessionID: "s1",
		Status:    types.StatusTranscribing,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestAssemblerPartialUpdatesLiveOnly(t *testing.T) {
	st := store.NewMemoryStore()
	a := New(st)
	if err := a.Begin(newUtterance("u1")); err != nil {
		t.Fatalf("begin: %v", err)
	}

	a.OnPartial("hel")
	a.OnPartial("hello wor")
	if got := a.Live(); got != "hello wor" {
		t.Fatalf("Live()=%q, want latest partial", got)
	}

	if _, ok := st.Get("u1"); ok {
		t.Fatalf("partial persisted the utterance")
	}
}

func TestAssemblerFinalCommitsOnce(t *testing.T) {
	st := store.NewMemoryStore()
	a := New(st)
	if err := a.Begin(newUtterance("u1")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	a.OnPartial("hello wor")

	committed, ok, err := a.OnFinal(context.Background(), 1, "hello world", "en")
	if err != nil || !ok {
		t.Fatalf("OnFinal=%v,%v", ok, err)
	}
	if committed.ID != "u1" || committed.RawTranscript != "hello world" {
		t.Fatalf("committed=%+v", committed)
	}
	if committed.SequenceNum != 1 || committed.Status != types.StatusProcessing {
		t.Fatalf("seq=%d status=%s", committed.SequenceNum, committed.Status)
	}
	if len(committed.DetectedLangs) != 1 || committed.DetectedLangs[0] != "en" {
		t.Fatalf("langs=%v", committed.DetectedLangs)
	}
	if a.Live() != "" {
		t.Fatalf("live view not cleared after commit")
	}

	stored, ok := st.Get("u1")
	if !ok || stored.Status != types.StatusProcessing || stored.RawTranscript != "hello world" {
		t.Fatalf("stored=%+v ok=%v", stored, ok)
	}

	// Provider retransmission of the same Final.
	_, ok, err = a.OnFinal(context.Background(), 2, "hello world", "en")
	if err != nil {
		t.Fatalf("duplicate final: %v", err)
	}
	if ok {
		t.Fatalf("duplicate final must not commit a second utterance")
	}
}

func TestAssemblerSingleOpenUtterance(t *testing.T) {
	st := store.NewMemoryStore()
	a := New(st)
	if err := a.Begin(newUtterance("u1")); err != nil {
		t.Fatalf("begin u1: %v", err)
	}
	if err := a.Begin(newUtterance("u2")); err == nil {
		t.Fatalf("expected error opening second utterance while u1 transcribing")
	}

	if _, ok, err := a.OnFinal(context.Background(), 1, "one", ""); !ok || err != nil {
		t.Fatalf("final u1: %v %v", ok, err)
	}
	if err := a.Begin(newUtterance("u2")); err != nil {
		t.Fatalf("begin u2 after commit: %v", err)
	}
}

func TestAssemblerDiscard(t *testing.T) {
	st := store.NewMemoryStore()
	a := New(st)
	if err := a.Begin(newUtterance("u1")); err != nil {
		t.Fatalf("begin: %v", err)
	}
	a.OnPartial("half a tho")

	discarded, ok := a.Discard()
	if !ok || discarded.ID != "u1" {
		t.Fatalf("discard=%+v %v", discarded, ok)
	}
	if a.Live() != "" {
		t.Fatalf("live view survives discard")
	}
	if _, ok := st.Get("u1"); ok {
		t.Fatalf("discarded utterance was persisted")
	}

	// A late Final for the discarded attempt commits nothing.
	if _, ok, _ := a.OnFinal(context.Background(), 1, "half a thought", ""); ok {
		t.Fatalf("final after discard must not commit")
	}

	if _, ok := a.Discard(); ok {
		t.Fatalf("second discard should be a no-op")
	}
}

func TestAssemblerFinalWithoutOpenIsIgnored(t *testing.T) {
	a := New(store.NewMemoryStore())
	if _, ok, err := a.OnFinal(context.Background(), 1, "stray", ""); ok || err != nil {
		t.Fatalf("stray final: ok=%v err=%v", ok, err)
	}
}

func TestAssemblerRejectsNonTranscribing(t *testing.T) {
	a := New(store.NewMemoryStore())
	u := newUtterance("u1")
	u.Status = types.StatusReady
	if err := a.Begin(u); err == nil {
		t.Fatalf("expected error for non-transcribing utterance")
	}
}
