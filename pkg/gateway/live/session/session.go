package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Edwinswanith/Multiaudio/pkg/gateway/live/protocol"
)

// wsConn is the websocket surface LiveSession needs from a
// *websocket.Conn.
type wsConn interface {
	wsWriter
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
}

// ShellConfig tunes the websocket shell around a coordinator.
type ShellConfig struct {
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	OutboundQueueSize int
}

// ShellDependencies carries the shell's collaborators.
type ShellDependencies struct {
	Conn        wsConn
	Coordinator *Coordinator
	Logger      *slog.Logger
	Config      ShellConfig
}

// LiveSession owns one websocket connection end to end: it decodes client
// frames, feeds them to the coordinator, and serializes coordinator events
// back out through a single writer goroutine.
type LiveSession struct {
	conn   wsConn
	coord  *Coordinator
	logger *slog.Logger
	cfg    ShellConfig

	ctx    context.Context
	cancel context.CancelFunc
	frames chan []byte
}

// NewShell builds a LiveSession around an upgraded connection.
func NewShell(deps ShellDependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, errors.New("connection is required")
	}
	if deps.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.ReadTimeout <= 0 {
		deps.Config.ReadTimeout = 60 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		conn:   deps.Conn,
		coord:  deps.Coordinator,
		logger: deps.Logger.With("session_id", deps.Coordinator.SessionID()),
		cfg:    deps.Config,
		ctx:    ctx,
		cancel: cancel,
		frames: make(chan []byte, deps.Config.OutboundQueueSize),
	}, nil
}

// Run blocks until the client disconnects or the parent context is
// canceled. The coordinator is always drained before Run returns so no
// processing result is lost.
func (s *LiveSession) Run(parent context.Context) error {
	defer s.cancel()

	stop := context.AfterFunc(parent, s.cancel)
	defer stop()

	s.conn.SetReadLimit(protocol.MaxJSONMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:           s.conn,
			ctx:          s.ctx,
			frames:       s.frames,
			pingInterval: s.cfg.PingInterval,
			writeTimeout: s.cfg.WriteTimeout,
		}
		writerErrCh <- w.Run()
	}()

	coordDone := make(chan error, 1)
	go func() {
		coordDone <- s.coord.Run(s.ctx)
	}()

	// Queued ahead of the event pump so connected always precedes
	// session_started on the wire.
	s.send(protocol.NewConnected())

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for ev := range s.coord.Events() {
			s.send(ev)
		}
	}()

	readErr := s.readLoop()
	s.cancel()

	<-pumpDone
	if err := <-coordDone; err != nil {
		s.logger.Warn("session loop ended with error", "error", err)
	}
	select {
	case <-writerErrCh:
	case <-time.After(time.Second):
	}

	if readErr != nil && !isExpectedClose(readErr) {
		return readErr
	}
	return nil
}

func (s *LiveSession) readLoop() error {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := s.coord.Submit(data); err != nil {
				return nil
			}
		case websocket.TextMessage:
			msg, err := protocol.DecodeClientMessage(data)
			if err != nil {
				var decodeErr *protocol.DecodeError
				if errors.As(err, &decodeErr) {
					s.send(protocol.NewServerError(decodeErr.Code, decodeErr.Error(), ""))
					continue
				}
				s.send(protocol.NewServerError("bad_request", "malformed message", ""))
				continue
			}
			if err := s.coord.Submit(msg); err != nil {
				return nil
			}
		default:
			// Ignore control frames surfaced by the library.
		}
	}
}

func (s *LiveSession) send(ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal event failed", "error", err)
		return
	}
	select {
	case s.frames <- data:
	case <-s.ctx.Done():
	}
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, context.Canceled)
}
