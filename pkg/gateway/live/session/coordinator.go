// Package session runs one live voice session: audio in, ordered cleaned
// utterances out. The coordinator goroutine owns all session state; the
// websocket shell and the processing goroutines talk to it over channels.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Edwinswanith/Multiaudio/pkg/core/llm"
	"github.com/Edwinswanith/Multiaudio/pkg/core/store"
	"github.com/Edwinswanith/Multiaudio/pkg/core/transcript"
	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/live/protocol"
	"github.com/Edwinswanith/Multiaudio/pkg/gateway/metrics"
)

// ErrSessionClosed is returned by Submit after the coordinator stopped.
var ErrSessionClosed = errors.New("session closed")

// SttStream is one live transcription stream. *stt.Bridge satisfies it.
type SttStream interface {
	Feed(data []byte, seq int64) error
	Commit() error
	Events() <-chan types.TranscriptEvent
	Close() error
}

// SttDialer opens a transcription stream for the session.
type SttDialer func(ctx context.Context) (SttStream, error)

// Processor turns one committed transcript into structured output.
type Processor interface {
	Process(ctx context.Context, u types.Utterance, packet types.MemoryPacket, mode types.Mode) (*types.LlmResult, error)
}

// SessionMemory is the per-session conversational memory.
// *memory.Manager satisfies it.
type SessionMemory interface {
	BuildPacket(ctx context.Context, excludingSeq int64) (types.MemoryPacket, error)
	NoteReady(u types.Utterance)
	Clear(ctx context.Context) error
	Summary() string
	Wait()
}

// Config tunes the coordinator. Zero values take defaults.
type Config struct {
	CommandQueueSize int
	EventQueueSize   int
	// StoreTimeout bounds store writes made outside the upstream request
	// path, such as persisting results during teardown.
	StoreTimeout time.Duration
}

// Dependencies carries everything a coordinator needs.
type Dependencies struct {
	Session   types.Session
	Store     store.Store
	DialSTT   SttDialer
	Processor Processor
	Memory    SessionMemory
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Config    Config
}

type procResult struct {
	utterance types.Utterance
	result    *types.LlmResult
	err       error
	started   time.Time
}

// Coordinator drives the per-session state machine. All mutation happens on
// the Run goroutine.
type Coordinator struct {
	session   types.Session
	store     store.Store
	dialSTT   SttDialer
	processor Processor
	memory    SessionMemory
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config

	commands    chan any
	events      chan any
	procResults chan procResult
	runDone     chan struct{}
	wg          sync.WaitGroup

	// Run-loop-owned state.
	assembler   *transcript.Assembler
	stream      SttStream
	recording   bool
	nextSeq     int64
	chunkSeq    int64
	inflight    map[string]struct{}
	canceled    map[string]struct{}
	lastSummary string
}

// New builds a coordinator. Run must be called exactly once.
func New(deps Dependencies) (*Coordinator, error) {
	if deps.Session.ID == "" {
		return nil, errors.New("session id is required")
	}
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.DialSTT == nil {
		return nil, errors.New("stt dialer is required")
	}
	if deps.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if deps.Memory == nil {
		return nil, errors.New("memory is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.CommandQueueSize <= 0 {
		deps.Config.CommandQueueSize = 256
	}
	if deps.Config.EventQueueSize <= 0 {
		deps.Config.EventQueueSize = 64
	}
	if deps.Config.StoreTimeout <= 0 {
		deps.Config.StoreTimeout = 5 * time.Second
	}

	return &Coordinator{
		session:     deps.Session,
		store:       deps.Store,
		dialSTT:     deps.DialSTT,
		processor:   deps.Processor,
		memory:      deps.Memory,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With("session_id", deps.Session.ID),
		cfg:         deps.Config,
		commands:    make(chan any, deps.Config.CommandQueueSize),
		events:      make(chan any, deps.Config.EventQueueSize),
		procResults: make(chan procResult, 8),
		runDone:     make(chan struct{}),
		assembler:   transcript.New(deps.Store),
		nextSeq:     1,
		inflight:    make(map[string]struct{}),
		canceled:    make(map[string]struct{}),
		lastSummary: deps.Session.Summary,
	}, nil
}

// SessionID returns the session identity.
func (c *Coordinator) SessionID() string { return c.session.ID }

// Events is the outbound event stream, closed when Run returns.
func (c *Coordinator) Events() <-chan any { return c.events }

// Submit hands a decoded command (or a raw binary audio frame) to the run
// loop.
func (c *Coordinator) Submit(msg any) error {
	select {
	case c.commands <- msg:
		return nil
	case <-c.runDone:
		return ErrSessionClosed
	}
}

// Run owns the session until ctx is canceled or the command stream ends.
// It persists the session, then loops over commands, transcription events,
// and processing results.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.events)
	defer close(c.runDone)

	if err := c.store.CreateSession(ctx, c.session); err != nil {
		c.logger.Error("create session failed", "error", err)
		return err
	}
	if c.metrics != nil {
		c.metrics.SessionsStarted.Inc()
		defer c.metrics.SessionsClosed.Inc()
	}
	c.emit(ctx, protocol.NewSessionStarted(c.session))

	for {
		var sttEvents <-chan types.TranscriptEvent
		if c.stream != nil {
			sttEvents = c.stream.Events()
		}

		select {
		case <-ctx.Done():
			return c.teardown()
		case msg := <-c.commands:
			c.handleCommand(ctx, msg)
		case ev, ok := <-sttEvents:
			if !ok {
				c.handleStreamLost(ctx)
				continue
			}
			c.handleTranscript(ctx, ev)
		case pr := <-c.procResults:
			c.finishProcessing(ctx, pr, true)
		}
	}
}

func (c *Coordinator) handleCommand(ctx context.Context, msg any) {
	switch cmd := msg.(type) {
	case protocol.StartRecording:
		c.startRecording(ctx)
	case protocol.AudioChunk:
		c.feedAudio(ctx, cmd.Data)
	case []byte:
		if len(cmd) > protocol.MaxAudioChunkBytes {
			c.emit(ctx, protocol.NewServerError("bad_request", "audio chunk exceeds size limit", ""))
			return
		}
		c.feedAudio(ctx, cmd)
	case protocol.StopRecording:
		c.stopRecording(ctx)
	case protocol.Cancel:
		c.cancelUtterance(ctx, cmd)
	case protocol.SetMode:
		c.session.Mode = cmd.Mode
	case protocol.ClearMemory:
		if err := c.memory.Clear(ctx); err != nil {
			c.logger.Warn("clear memory failed", "error", err)
			c.emit(ctx, protocol.NewServerError("internal", "failed to clear memory", ""))
			return
		}
		c.lastSummary = ""
		c.emit(ctx, protocol.NewSummaryUpdated(""))
	default:
		c.emit(ctx, protocol.NewServerError("bad_request", "unsupported command", ""))
	}
}

func (c *Coordinator) startRecording(ctx context.Context) {
	if c.recording {
		c.emit(ctx, protocol.NewServerError("bad_request", "already recording", ""))
		return
	}
	if open, ok := c.assembler.Open(); ok {
		// The prior utterance has not settled yet; Transcribing is
		// exclusive.
		c.emit(ctx, protocol.NewServerError("utterance_in_flight", "previous utterance still transcribing", open.ID))
		return
	}

	if c.stream == nil {
		stream, err := c.dialSTT(ctx)
		if err != nil {
			c.logger.Error("stt dial failed", "error", err)
			if c.metrics != nil {
				c.metrics.STTFailures.Inc()
			}
			c.emit(ctx, protocol.NewServerError("stt_unavailable", "transcription service unavailable", ""))
			return
		}
		c.stream = stream
	}

	u := types.Utterance{
		ID:        uuid.NewString(),
		SessionID: c.session.ID,
		Status:    types.StatusTranscribing,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := c.assembler.Begin(u); err != nil {
		c.emit(ctx, protocol.NewServerError("internal", err.Error(), ""))
		return
	}
	c.recording = true
}

func (c *Coordinator) feedAudio(ctx context.Context, data []byte) {
	if !c.recording || c.stream == nil {
		c.emit(ctx, protocol.NewServerError("bad_request", "not recording", ""))
		return
	}
	c.chunkSeq++
	if err := c.stream.Feed(data, c.chunkSeq); err != nil {
		c.logger.Warn("audio feed failed", "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.STTChunksForwarded.Inc()
	}
}

func (c *Coordinator) stopRecording(ctx context.Context) {
	if !c.recording || c.stream == nil {
		c.emit(ctx, protocol.NewServerError("bad_request", "not recording", ""))
		return
	}
	c.recording = false
	if err := c.stream.Commit(); err != nil {
		c.logger.Warn("commit failed", "error", err)
	}
}

// cancelUtterance implements the two cancellation semantics: a Transcribing
// utterance is discarded without consuming a sequence number; a Processing
// utterance lets its issued call finish but the result is never surfaced.
func (c *Coordinator) cancelUtterance(ctx context.Context, cmd protocol.Cancel) {
	if open, ok := c.assembler.Open(); ok {
		if cmd.UtteranceID != "" && cmd.UtteranceID != open.ID {
			c.emit(ctx, protocol.NewServerError("bad_request", "unknown utterance id", cmd.UtteranceID))
			return
		}
		c.assembler.Discard()
		c.recording = false
		return
	}

	if cmd.UtteranceID != "" {
		if _, ok := c.inflight[cmd.UtteranceID]; !ok {
			c.emit(ctx, protocol.NewServerError("bad_request", "unknown utterance id", cmd.UtteranceID))
			return
		}
		c.canceled[cmd.UtteranceID] = struct{}{}
		return
	}

	c.emit(ctx, protocol.NewServerError("bad_request", "nothing to cancel", ""))
}

func (c *Coordinator) handleTranscript(ctx context.Context, ev types.TranscriptEvent) {
	switch ev.Kind {
	case types.EventPartial:
		if _, ok := c.assembler.Open(); !ok {
			return
		}
		c.assembler.OnPartial(ev.Text)
		c.emit(ctx, protocol.NewPartialTranscript(ev.Text))
	case types.EventFinal:
		c.commitFinal(ctx, ev)
	}
}

func (c *Coordinator) commitFinal(ctx context.Context, ev types.TranscriptEvent) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		// The provider settled a silent segment. Nothing to persist and no
		// sequence number consumed; while recording, the open attempt keeps
		// collecting audio, otherwise it is abandoned.
		if !c.recording {
			c.assembler.Discard()
		}
		return
	}
	u, ok, err := c.assembler.OnFinal(ctx, c.nextSeq, text, ev.Language)
	if err != nil {
		c.logger.Error("utterance commit failed", "error", err)
		c.assembler.Discard()
		c.emit(ctx, protocol.NewServerError("internal", "failed to persist utterance", ""))
		return
	}
	if !ok {
		// Late or retransmitted Final; nothing is open.
		return
	}
	c.nextSeq++
	if c.metrics != nil {
		c.metrics.UtterancesCommitted.Inc()
	}
	c.emit(ctx, protocol.NewFinalTranscript(u))
	c.emit(ctx, protocol.NewProcessingStarted(u.ID))

	mode := c.session.Mode
	c.inflight[u.ID] = struct{}{}
	c.wg.Add(1)
	// Processing must survive upstream teardown so the result is persisted.
	procCtx := context.WithoutCancel(ctx)
	go c.process(procCtx, u, mode)

	// Pipelining: the next utterance may begin transcribing while this one
	// is processed.
	if c.recording {
		next := types.Utterance{
			ID:        uuid.NewString(),
			SessionID: c.session.ID,
			Status:    types.StatusTranscribing,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := c.assembler.Begin(next); err != nil {
			c.logger.Error("begin next utterance failed", "error", err)
			c.recording = false
		}
	}
}

func (c *Coordinator) process(ctx context.Context, u types.Utterance, mode types.Mode) {
	defer c.wg.Done()
	started := time.Now()
	if c.metrics != nil {
		c.metrics.LLMRequests.Inc()
	}

	packet, err := c.memory.BuildPacket(ctx, u.SequenceNum)
	var result *types.LlmResult
	if err == nil {
		result, err = c.processor.Process(ctx, u, packet, mode)
	}
	c.procResults <- procResult{utterance: u, result: result, err: err, started: started}
}

func (c *Coordinator) finishProcessing(ctx context.Context, pr procResult, emit bool) {
	u := pr.utterance
	delete(c.inflight, u.ID)

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StoreTimeout)
	defer cancel()

	if _, wasCanceled := c.canceled[u.ID]; wasCanceled {
		delete(c.canceled, u.ID)
		if err := c.store.UpdateStatus(storeCtx, u.ID, store.StatusUpdate{Status: types.StatusError}); err != nil {
			c.logger.Warn("mark canceled utterance failed", "error", err)
		}
		return
	}

	if pr.err != nil {
		c.logger.Warn("utterance processing failed", "utterance_id", u.ID, "error", pr.err)
		if c.metrics != nil {
			c.metrics.UtteranceErrors.WithLabelValues("llm").Inc()
		}
		if err := c.store.UpdateStatus(storeCtx, u.ID, store.StatusUpdate{Status: types.StatusError}); err != nil {
			c.logger.Warn("mark failed utterance failed", "error", err)
		}
		if emit {
			c.emit(ctx, protocol.NewServerError(errorCode(pr.err), "utterance processing failed", u.ID))
		}
		return
	}

	result := pr.result
	u.Status = types.StatusReady
	u.CleanedMeaning = result.CleanedMeaning
	u.PromptReady = result.PromptReady
	u.RiskLevel = result.RiskLevel
	u.DetectedLangs = result.DetectedLanguages
	u.Entities = result.Entities
	update := store.StatusUpdate{
		Status:         types.StatusReady,
		CleanedMeaning: &result.CleanedMeaning,
		PromptReady:    &result.PromptReady,
		RiskLevel:      &result.RiskLevel,
		DetectedLangs:  result.DetectedLanguages,
		Entities:       result.Entities,
	}
	if err := c.store.UpdateStatus(storeCtx, u.ID, update); err != nil {
		c.logger.Error("persist result failed", "utterance_id", u.ID, "error", err)
		if emit {
			c.emit(ctx, protocol.NewServerError("internal", "failed to persist result", u.ID))
		}
		return
	}

	if c.metrics != nil {
		c.metrics.UtterancesReady.Inc()
		c.metrics.UtteranceDuration.Observe(time.Since(pr.started).Seconds())
	}
	c.memory.NoteReady(u)

	if emit {
		c.emit(ctx, protocol.NewProcessingComplete(u, result))
		if summary := c.memory.Summary(); summary != c.lastSummary {
			c.lastSummary = summary
			c.emit(ctx, protocol.NewSummaryUpdated(summary))
		}
	}
}

// handleStreamLost reacts to the transcription stream ending after its
// retries are exhausted. The in-flight attempt is lost; the session stays
// usable and a later start_recording dials a fresh stream.
func (c *Coordinator) handleStreamLost(ctx context.Context) {
	c.stream = nil
	c.recording = false
	if c.metrics != nil {
		c.metrics.STTFailures.Inc()
	}
	if open, ok := c.assembler.Open(); ok {
		c.assembler.Discard()
		c.emit(ctx, protocol.NewServerError("stt_unavailable", "transcription stream lost", open.ID))
		return
	}
	c.emit(ctx, protocol.NewServerError("stt_unavailable", "transcription stream lost", ""))
}

// teardown closes the transcription stream immediately, then drains
// outstanding processing so every issued call settles and persists.
func (c *Coordinator) teardown() error {
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			c.logger.Warn("close stt stream failed", "error", err)
		}
		c.stream = nil
	}
	c.assembler.Discard()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.wg.Wait()
	}()
	for {
		select {
		case pr := <-c.procResults:
			c.finishProcessing(context.Background(), pr, false)
		case <-done:
			c.memory.Wait()
			return nil
		}
	}
}

func errorCode(err error) string {
	switch llm.Kind(err) {
	case llm.KindTimeout:
		return "llm_timeout"
	case llm.KindSchemaInvalid:
		return "llm_schema_invalid"
	default:
		return "llm_error"
	}
}

func (c *Coordinator) emit(ctx context.Context, ev any) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
