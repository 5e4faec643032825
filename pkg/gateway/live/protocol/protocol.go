// Package protocol defines the upstream websocket wire format: client
// commands in, session events out.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

const (
	// MaxAudioChunkBytes bounds one decoded audio chunk. Larger chunks are
	// rejected without touching session state.
	MaxAudioChunkBytes = 64 * 1024

	// MaxJSONMessageBytes bounds one JSON command frame.
	MaxJSONMessageBytes = 128 * 1024
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// Client commands.

type StartRecording struct {
	Type string `json:"type"`
}

// AudioChunk is the base64 JSON transport for audio. Clients may instead
// send raw binary websocket frames while recording; those bypass decoding.
type AudioChunk struct {
	Type    string `json:"type"`
	DataB64 string `json:"data_b64"`

	// Data is the decoded payload, populated during decode.
	Data []byte `json:"-"`
}

type StopRecording struct {
	Type string `json:"type"`
}

type Cancel struct {
	Type        string `json:"type"`
	UtteranceID string `json:"utterance_id,omitempty"`
}

type SetMode struct {
	Type string     `json:"type"`
	Mode types.Mode `json:"mode"`
}

type ClearMemory struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one JSON command frame. Every malformed frame
// comes back as a *DecodeError so the caller can reject it synchronously.
func DecodeClientMessage(data []byte) (any, error) {
	if len(data) > MaxJSONMessageBytes {
		return nil, badRequest("message too large", "")
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "start_recording":
		return StartRecording{Type: typ}, nil
	case "audio_chunk":
		var msg AudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_chunk", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio_chunk.data_b64 is required", "data_b64")
		}
		decoded, err := base64.StdEncoding.DecodeString(msg.DataB64)
		if err != nil {
			return nil, badRequest("audio_chunk.data_b64 is not valid base64", "data_b64")
		}
		if len(decoded) > MaxAudioChunkBytes {
			return nil, badRequest("audio chunk exceeds size limit", "data_b64")
		}
		msg.Data = decoded
		return msg, nil
	case "stop_recording":
		return StopRecording{Type: typ}, nil
	case "cancel":
		var msg Cancel
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid cancel", "")
		}
		return msg, nil
	case "set_mode":
		var msg SetMode
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid set_mode", "")
		}
		if _, err := types.ParseMode(string(msg.Mode)); err != nil {
			return nil, unsupported("unsupported mode", "mode")
		}
		return msg, nil
	case "clear_memory":
		return ClearMemory{Type: typ}, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// Server events.

type Connected struct {
	Type string `json:"type"`
}

type SessionStarted struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	Mode          string `json:"mode"`
	MemoryEnabled bool   `json:"memory_enabled"`
}

type PartialTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type FinalTranscript struct {
	Type        string `json:"type"`
	UtteranceID string `json:"utterance_id"`
	SequenceNum int64  `json:"sequence_num"`
	Text        string `json:"text"`
	Language    string `json:"language,omitempty"`
}

type ProcessingStarted struct {
	Type        string `json:"type"`
	UtteranceID string `json:"utterance_id"`
}

type ProcessingComplete struct {
	Type        string           `json:"type"`
	UtteranceID string           `json:"utterance_id"`
	SequenceNum int64            `json:"sequence_num"`
	Result      *types.LlmResult `json:"result"`
}

type SummaryUpdated struct {
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

type ServerError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	UtteranceID string `json:"utterance_id,omitempty"`
}

func NewConnected() Connected {
	return Connected{Type: "connected"}
}

func NewSessionStarted(s types.Session) SessionStarted {
	return SessionStarted{
		Type:          "session_started",
		SessionID:     s.ID,
		Mode:          string(s.Mode),
		MemoryEnabled: s.MemoryEnabled,
	}
}

func NewPartialTranscript(text string) PartialTranscript {
	return PartialTranscript{Type: "partial_transcript", Text: text}
}

func NewFinalTranscript(u types.Utterance) FinalTranscript {
	language := ""
	if len(u.DetectedLangs) > 0 {
		language = u.DetectedLangs[0]
	}
	return FinalTranscript{
		Type:        "final_transcript",
		UtteranceID: u.ID,
		SequenceNum: u.SequenceNum,
		Text:        u.RawTranscript,
		Language:    language,
	}
}

func NewProcessingStarted(utteranceID string) ProcessingStarted {
	return ProcessingStarted{Type: "processing_started", UtteranceID: utteranceID}
}

func NewProcessingComplete(u types.Utterance, result *types.LlmResult) ProcessingComplete {
	return ProcessingComplete{
		Type:        "processing_complete",
		UtteranceID: u.ID,
		SequenceNum: u.SequenceNum,
		Result:      result,
	}
}

func NewSummaryUpdated(summary string) SummaryUpdated {
	return SummaryUpdated{Type: "summary_updated", Summary: summary}
}

func NewServerError(code, message, utteranceID string) ServerError {
	return ServerError{Type: "error", Code: code, Message: message, UtteranceID: utteranceID}
}
