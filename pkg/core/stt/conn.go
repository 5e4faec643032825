package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

// providerConn is one websocket connection to the realtime transcription
// provider. The bridge owns its lifecycle; writes are serialized by writeMu
// per the gorilla single-writer rule.
type providerConn struct {
	ws      *websocket.Conn
	logger  *slog.Logger
	writeMu sync.Mutex
}

// chunkMessage is the provider's inbound audio frame.
type chunkMessage struct {
	MessageType string `json:"message_type"`
	AudioBase64 string `json:"audio_base_64"`
	Commit      bool   `json:"commit,omitempty"`
}

// providerFrame is the provider's outbound JSON frame shape.
type providerFrame struct {
	MessageType  string `json:"message_type"`
	SessionID    string `json:"session_id,omitempty"`
	Text         string `json:"text,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	Error        string `json:"error,omitempty"`
}

func dialProvider(ctx context.Context, cfg Config, logger *slog.Logger) (*providerConn, error) {
	u, err := url.Parse(cfg.BaseWSURL + "/v1/speech-to-text/realtime")
	if err != nil {
		return nil, fmt.Errorf("parse provider URL: %w", err)
	}
	q := u.Query()
	q.Set("model_id", cfg.ModelID)
	q.Set("audio_format", fmt.Sprintf("pcm_%d", cfg.SampleRate))
	q.Set("include_language_detection", "true")
	q.Set("commit_strategy", "vad")
	q.Set("vad_silence_threshold_secs", "1.0")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", cfg.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("provider connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("provider connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("provider connect: %w", err)
	}
	return &providerConn{ws: ws, logger: logger}, nil
}

// sendChunk forwards one audio chunk, optionally asking the provider to
// settle the open segment.
func (c *providerConn) sendChunk(data []byte, commit bool) error {
	msg := chunkMessage{
		MessageType: "input_audio_chunk",
		AudioBase64: base64.StdEncoding.EncodeToString(data),
		Commit:      commit,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *providerConn) close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// readLoop decodes provider frames into transcript events until the
// connection fails or closes. The terminating error is delivered on errCh.
func (c *providerConn) readLoop(ctx context.Context, events chan<- types.TranscriptEvent, errCh chan<- error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case errCh <- err:
			case <-ctx.Done():
			}
			return
		}

		var frame providerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		var ev types.TranscriptEvent
		switch frame.MessageType {
		case "partial_transcript":
			if frame.Text == "" {
				continue
			}
			ev = types.TranscriptEvent{Kind: types.EventPartial, Text: frame.Text}
		case "committed_transcript", "committed_transcript_with_timestamps":
			ev = types.TranscriptEvent{Kind: types.EventFinal, Text: frame.Text, Language: frame.LanguageCode}
		case "session_started":
			continue
		default:
			if frame.Error != "" {
				// Error frames are informational. Fatal provider failures
				// close the socket and surface through ReadMessage.
				if c.logger != nil {
					c.logger.Warn("stt provider error", slog.String("error", frame.Error))
				}
			}
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// defaultBackoff returns the reconnect delay for the given attempt (0-based):
// 1s, 2s, 4s.
func defaultBackoff(base time.Duration, attempt int) time.Duration {
	return base << attempt
}
