package stt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

// fakeProvider is an in-process realtime transcription endpoint. Each
// connection transcribes the chunks it received on that connection; provider
// state does not survive a disconnect, which is exactly why the bridge
// replays its buffer.
type fakeProvider struct {
	t *testing.T

	mu           sync.Mutex
	conns        int
	dropAfter    int  // close the first connection after this many chunks (0 = never)
	refuseAfter  int  // reject upgrades once this many connections were made (0 = never)
	partials     bool // emit a partial before each commit
	errorOnFirst bool // emit an error frame before the first chunk's processing

	server *httptest.Server
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{t: t}
	upgrader := websocket.Upgrader{}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.conns++
		connNum := p.conns
		refuse := p.refuseAfter > 0 && connNum > p.refuseAfter
		p.mu.Unlock()
		if refuse {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		p.serve(ws, connNum)
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) wsURL() string {
	return "ws" + strings.TrimPrefix(p.server.URL, "http")
}

func (p *fakeProvider) connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns
}

func (p *fakeProvider) serve(ws *websocket.Conn, connNum int) {
	_ = ws.WriteJSON(map[string]any{"message_type": "session_started", "session_id": fmt.Sprintf("prov_%d", connNum)})

	var words []string
	received := 0
	for {
		var msg chunkMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		if len(msg.AudioBase64) > 0 {
			data, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
			if err != nil {
				continue
			}
			words = append(words, string(data))
			received++

			p.mu.Lock()
			errFrame := p.errorOnFirst && received == 1
			p.mu.Unlock()
			if errFrame {
				_ = ws.WriteJSON(map[string]any{
					"message_type": "error",
					"error":        "transient provider hiccup",
				})
			}

			p.mu.Lock()
			drop := connNum == 1 && p.dropAfter > 0 && received >= p.dropAfter
			partials := p.partials
			p.mu.Unlock()

			if partials {
				_ = ws.WriteJSON(map[string]any{
					"message_type": "partial_transcript",
					"text":         strings.Join(words, " "),
				})
			}
			if drop {
				// Simulate a provider-side failure mid-utterance.
				return
			}
		}
		if msg.Commit {
			_ = ws.WriteJSON(map[string]any{
				"message_type":  "committed_transcript",
				"text":          strings.Join(words, " "),
				"language_code": "en",
			})
			words = nil
		}
	}
}

func testConfig(url string) Config {
	return Config{
		BaseWSURL:   url,
		APIKey:      "test-key",
		SampleRate:  16000,
		BackoffBase: 5 * time.Millisecond,
	}
}

func feedWords(t *testing.T, b *Bridge, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		if err := b.Feed([]byte(fmt.Sprintf("w%d", i)), int64(i)); err != nil {
			t.Fatalf("feed %d: %v", i, err)
		}
	}
}

func waitFinal(t *testing.T, b *Bridge) types.TranscriptEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-b.Events():
			if !ok {
				t.Fatalf("events closed before final, err=%v", b.Err())
			}
			if ev.Kind == types.EventFinal {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for final event")
		}
	}
}

func TestBridgeCommitDeliversFinal(t *testing.T) {
	p := newFakeProvider(t)
	b, err := Open(context.Background(), testConfig(p.wsURL()), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	feedWords(t, b, 10)
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	final := waitFinal(t, b)
	want := "w1 w2 w3 w4 w5 w6 w7 w8 w9 w10"
	if final.Text != want {
		t.Fatalf("final=%q, want %q", final.Text, want)
	}
	if final.Language != "en" {
		t.Fatalf("language=%q, want en", final.Language)
	}
	if b.LastSeq() != 10 {
		t.Fatalf("LastSeq=%d, want 10", b.LastSeq())
	}
}

func TestBridgeProviderErrorFrameKeepsConnection(t *testing.T) {
	p := newFakeProvider(t)
	p.errorOnFirst = true

	b, err := Open(context.Background(), testConfig(p.wsURL()), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	feedWords(t, b, 3)
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	final := waitFinal(t, b)
	if final.Text != "w1 w2 w3" {
		t.Fatalf("final=%q, want %q", final.Text, "w1 w2 w3")
	}
	if got := b.Reconnects(); got != 0 {
		t.Fatalf("reconnects=%d, want 0", got)
	}
	if got := p.connections(); got != 1 {
		t.Fatalf("connections=%d, want 1", got)
	}
}

func TestBridgePartialsPrecedeFinal(t *testing.T) {
	p := newFakeProvider(t)
	p.partials = true
	b, err := Open(context.Background(), testConfig(p.wsURL()), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	feedWords(t, b, 3)
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var partials []string
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-b.Events():
			if !ok {
				t.Fatalf("events closed early, err=%v", b.Err())
			}
			if ev.Kind == types.EventPartial {
				partials = append(partials, ev.Text)
				continue
			}
			if len(partials) == 0 {
				t.Fatalf("no partials before final")
			}
			last := partials[len(partials)-1]
			if last != "w1 w2 w3" {
				t.Fatalf("last partial=%q, want %q", last, "w1 w2 w3")
			}
			return
		case <-deadline:
			t.Fatalf("timed out")
		}
	}
}

func TestBridgeReconnectReplaysBuffer(t *testing.T) {
	// Baseline run without any disconnect.
	pBase := newFakeProvider(t)
	base, err := Open(context.Background(), testConfig(pBase.wsURL()), nil)
	if err != nil {
		t.Fatalf("open baseline: %v", err)
	}
	defer base.Close()
	feedWords(t, base, 10)
	if err := base.Commit(); err != nil {
		t.Fatalf("commit baseline: %v", err)
	}
	baseline := waitFinal(t, base).Text

	// Same input, but the provider drops the connection after 3 chunks.
	p := newFakeProvider(t)
	p.dropAfter = 3
	b, err := Open(context.Background(), testConfig(p.wsURL()), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	feedWords(t, b, 10)
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	final := waitFinal(t, b)
	if final.Text != baseline {
		t.Fatalf("final after reconnect=%q, want baseline %q", final.Text, baseline)
	}
	if got := p.connections(); got < 2 {
		t.Fatalf("connections=%d, want >= 2", got)
	}
	if b.Reconnects() != 1 {
		t.Fatalf("Reconnects=%d, want 1", b.Reconnects())
	}
}

func TestBridgeExhaustedRetriesIsTerminal(t *testing.T) {
	p := newFakeProvider(t)
	p.dropAfter = 2
	p.refuseAfter = 1 // every reconnect attempt is refused
	b, err := Open(context.Background(), testConfig(p.wsURL()), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	feedWords(t, b, 5)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-b.Events():
			if !ok {
				if !errors.Is(b.Err(), ErrConnectionExhausted) {
					t.Fatalf("err=%v, want ErrConnectionExhausted", b.Err())
				}
				if err := b.Feed([]byte("late"), 6); err == nil {
					t.Fatalf("expected feed to fail after terminal failure")
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for terminal failure")
		}
	}
}

func TestBridgeFinalResetsReplayBuffer(t *testing.T) {
	// Two utterances with a disconnect during the second: the replayed buffer
	// must not include the first utterance's audio.
	p := newFakeProvider(t)
	b, err := Open(context.Background(), testConfig(p.wsURL()), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	feedWords(t, b, 2)
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := waitFinal(t, b).Text; got != "w1 w2" {
		t.Fatalf("first final=%q", got)
	}

	// Second utterance on the same stream.
	if err := b.Feed([]byte("second"), 3); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := waitFinal(t, b).Text; got != "second" {
		t.Fatalf("second final=%q, want %q", got, "second")
	}
}

func TestReplayBufferEvictsOldest(t *testing.T) {
	r := newReplayBuffer(10)
	r.add(chunk{data: []byte("aaaa"), seq: 1})
	r.add(chunk{data: []byte("bbbb"), seq: 2})
	r.add(chunk{data: []byte("cccc"), seq: 3}) // 12 bytes > 10, evicts seq 1
	got := r.snapshot()
	if len(got) != 2 || got[0].seq != 2 || got[1].seq != 3 {
		t.Fatalf("snapshot=%v", got)
	}
	r.reset()
	if len(r.snapshot()) != 0 {
		t.Fatalf("expected empty buffer after reset")
	}
}
