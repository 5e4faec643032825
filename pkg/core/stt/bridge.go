// Package stt bridges ordered session audio to an external realtime
// transcription provider, normalizing provider callbacks into one lazy
// TranscriptEvent stream per session and owning reconnection.
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

// ErrConnectionExhausted is the terminal bridge failure after all reconnect
// attempts are spent. The in-flight utterance goes to Error; the session
// stays usable.
var ErrConnectionExhausted = errors.New("stt: connection exhausted after retries")

// ErrBridgeClosed is returned by Feed and Commit once the bridge is closed
// or terminally failed.
var ErrBridgeClosed = errors.New("stt: bridge closed")

// Config configures one provider bridge.
type Config struct {
	BaseWSURL        string
	APIKey           string
	ModelID          string
	SampleRate       int
	HandshakeTimeout time.Duration

	// ReplayWindow bounds the recent-chunk buffer replayed after a
	// reconnect. Sized in audio time; bytes are derived from SampleRate
	// assuming 16-bit mono PCM.
	ReplayWindow time.Duration
	MaxRetries   int
	BackoffBase  time.Duration

	// ReconnectCounter, when set, counts successful reconnects.
	ReconnectCounter prometheus.Counter
}

func (c *Config) setDefaults() {
	if c.ModelID == "" {
		c.ModelID = "scribe_v2_realtime"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
}

type chunk struct {
	data []byte
	seq  int64
}

// Bridge maintains a persistent stream to the transcription provider for one
// session. Audio fed in arrival order comes back out as partial/final
// transcript events on Events().
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	feedCh   chan chunk
	commitCh chan struct{}
	events   chan types.TranscriptEvent

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool

	terminalErr atomic.Value // error
	lastSeq     atomic.Int64
	reconnects  atomic.Int64
}

// Open dials the provider and starts the bridge loop. The returned bridge
// emits events until Close or terminal failure, at which point Events() is
// closed and Err() reports the cause.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Bridge, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := dialProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	bctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:      cfg,
		logger:   logger,
		feedCh:   make(chan chunk, 64),
		commitCh: make(chan struct{}, 4),
		events:   make(chan types.TranscriptEvent, 64),
		ctx:      bctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go b.run(conn)
	return b, nil
}

// Feed forwards one audio chunk in arrival order. seq is a diagnostic tag
// from the client stream, not a renumbering of the provider stream.
// Fire-and-forget: delivery errors surface through the event stream, not here.
func (b *Bridge) Feed(data []byte, seq int64) error {
	if b.closed.Load() {
		return ErrBridgeClosed
	}
	c := chunk{data: append([]byte(nil), data...), seq: seq}
	select {
	case b.feedCh <- c:
		b.lastSeq.Store(seq)
		return nil
	case <-b.ctx.Done():
		return ErrBridgeClosed
	}
}

// Commit asks the provider to settle the open segment now (client stopped
// recording). The Final event arrives on Events().
func (b *Bridge) Commit() error {
	if b.closed.Load() {
		return ErrBridgeClosed
	}
	select {
	case b.commitCh <- struct{}{}:
		return nil
	case <-b.ctx.Done():
		return ErrBridgeClosed
	}
}

// Events returns the session-scoped transcript event stream. The channel is
// closed on Close or terminal failure.
func (b *Bridge) Events() <-chan types.TranscriptEvent {
	return b.events
}

// Err reports the terminal failure, if any, once Events() is closed.
func (b *Bridge) Err() error {
	if err, ok := b.terminalErr.Load().(error); ok {
		return err
	}
	return nil
}

// LastSeq returns the diagnostic tag of the most recently fed chunk.
func (b *Bridge) LastSeq() int64 { return b.lastSeq.Load() }

// Reconnects returns how many reconnect cycles the bridge has performed.
func (b *Bridge) Reconnects() int64 { return b.reconnects.Load() }

// Close flushes and disconnects. Idempotent.
func (b *Bridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.cancel()
	<-b.done
	return nil
}

func (b *Bridge) run(conn *providerConn) {
	defer close(b.done)
	defer close(b.events)

	rawEvents := make(chan types.TranscriptEvent, 64)
	readErr := make(chan error, 1)
	go conn.readLoop(b.ctx, rawEvents, readErr)

	replay := newReplayBuffer(replayBytes(b.cfg))
	pendingCommit := false
	awaitingFinal := false

	reconnect := func() bool {
		_ = conn.close()
		// A commit written to a dying connection is lost; re-issue it while a
		// Final is still outstanding.
		commit := pendingCommit || awaitingFinal
		next, err := b.redial(replay.snapshot(), commit)
		if err != nil {
			b.terminalErr.Store(err)
			return false
		}
		conn = next
		pendingCommit = false
		awaitingFinal = commit
		readErr = make(chan error, 1)
		go conn.readLoop(b.ctx, rawEvents, readErr)
		return true
	}

	for {
		select {
		case <-b.ctx.Done():
			_ = conn.sendChunk(nil, true) // best-effort flush
			_ = conn.close()
			return

		case c := <-b.feedCh:
			replay.add(c)
			if err := conn.sendChunk(c.data, false); err != nil {
				b.logger.Warn("stt chunk write failed, reconnecting",
					slog.Int64("seq", c.seq), slog.String("error", err.Error()))
				if !reconnect() {
					return
				}
			}

		case <-b.commitCh:
			if err := conn.sendChunk(nil, true); err != nil {
				pendingCommit = true
				if !reconnect() {
					return
				}
			} else {
				awaitingFinal = true
			}

		case ev := <-rawEvents:
			if ev.Kind == types.EventFinal {
				// The segment is settled; replaying its audio after a later
				// reconnect would duplicate it.
				replay.reset()
				awaitingFinal = false
			}
			select {
			case b.events <- ev:
			case <-b.ctx.Done():
				_ = conn.close()
				return
			}

		case err := <-readErr:
			b.logger.Warn("stt stream read failed, reconnecting",
				slog.String("error", err.Error()))
			if !reconnect() {
				return
			}
		}
	}
}

// redial reconnects with exponential backoff and transparently replays the
// retained recent chunks so the provider rebuilds its recognition state.
// Backoff sleeps are context-aware and never block other sessions.
func (b *Bridge) redial(buffered []chunk, commit bool) (*providerConn, error) {
	var lastErr error
	for attempt := 0; attempt < b.cfg.MaxRetries; attempt++ {
		delay := defaultBackoff(b.cfg.BackoffBase, attempt)
		select {
		case <-time.After(delay):
		case <-b.ctx.Done():
			return nil, b.ctx.Err()
		}

		conn, err := dialProvider(b.ctx, b.cfg, b.logger)
		if err != nil {
			lastErr = err
			b.logger.Warn("stt reconnect attempt failed",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			continue
		}

		if err := b.replayChunks(conn, buffered, commit); err != nil {
			lastErr = err
			_ = conn.close()
			continue
		}

		b.reconnects.Add(1)
		if b.cfg.ReconnectCounter != nil {
			b.cfg.ReconnectCounter.Inc()
		}
		b.logger.Info("stt stream reconnected",
			slog.Int("attempt", attempt+1),
			slog.Int("replayed_chunks", len(buffered)))
		return conn, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrConnectionExhausted, lastErr)
}

func (b *Bridge) replayChunks(conn *providerConn, buffered []chunk, commit bool) error {
	for _, c := range buffered {
		if err := conn.sendChunk(c.data, false); err != nil {
			return fmt.Errorf("replay chunk seq %d: %w", c.seq, err)
		}
	}
	if commit {
		return conn.sendChunk(nil, true)
	}
	return nil
}

func replayBytes(cfg Config) int {
	// 16-bit mono PCM.
	return int(cfg.ReplayWindow.Seconds() * float64(cfg.SampleRate) * 2)
}

// replayBuffer retains the most recent chunks up to a byte cap.
type replayBuffer struct {
	maxBytes int
	chunks   []chunk
	bytes    int
}

func newReplayBuffer(maxBytes int) *replayBuffer {
	return &replayBuffer{maxBytes: maxBytes}
}

func (r *replayBuffer) add(c chunk) {
	r.chunks = append(r.chunks, c)
	r.bytes += len(c.data)
	for r.bytes > r.maxBytes && len(r.chunks) > 1 {
		r.bytes -= len(r.chunks[0].data)
		r.chunks = r.chunks[1:]
	}
}

func (r *replayBuffer) snapshot() []chunk {
	out := make([]chunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}

func (r *replayBuffer) reset() {
	r.chunks = nil
	r.bytes = 0
}
