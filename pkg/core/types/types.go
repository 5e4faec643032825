// Package types defines the shared data model for the voice session core:
// sessions, utterances, transcript events, memory packets, and structured
// LLM results.
package types

import (
	"fmt"
	"time"
)

// Mode selects the processing policy applied to committed transcripts.
type Mode string

const (
	// ModeStrict forbids any addition or omission of information and picks
	// the most literal reading under ambiguity.
	ModeStrict Mode = "strict"
	// ModeBalanced permits restructuring for clarity while preserving intent.
	ModeBalanced Mode = "balanced"
)

// ParseMode validates a wire-level mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStrict, ModeBalanced:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// RiskLevel classifies how much cleanup may have diverged from intended
// meaning.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether the risk level is one of the schema enum values.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// UtteranceStatus is the per-utterance lifecycle state. Transitions are
// forward-only: Transcribing → Processing → {Ready | Error}.
type UtteranceStatus string

const (
	StatusTranscribing UtteranceStatus = "transcribing"
	StatusProcessing   UtteranceStatus = "processing"
	StatusReady        UtteranceStatus = "ready"
	StatusError        UtteranceStatus = "error"
)

// CanTransition reports whether moving from the current status to next is a
// legal forward transition. Ready and Error are terminal.
func (s UtteranceStatus) CanTransition(next UtteranceStatus) bool {
	switch s {
	case StatusTranscribing:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusReady || next == StatusError
	default:
		return false
	}
}

// Session is one client conversation: an ordered run of utterances plus
// bounded rolling memory. All mutation goes through the session coordinator.
type Session struct {
	ID            string
	Mode          Mode
	MemoryEnabled bool
	Summary       string
	CreatedAt     time.Time
}

// Utterance is one committed spoken segment plus its derived structured
// output. SequenceNum is strictly increasing and gap-free within a session,
// assigned only by the session coordinator.
type Utterance struct {
	ID             string
	SessionID      string
	SequenceNum    int64
	Status         UtteranceStatus
	RawTranscript  string
	CleanedMeaning string
	PromptReady    string
	RiskLevel      RiskLevel
	DetectedLangs  []string
	Entities       []Entity
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Entity is a span the cleanup policy must not alter (names, numbers, URLs,
// code tokens).
type Entity struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// TranscriptEventKind tags incremental vs settled recognition results.
type TranscriptEventKind int

const (
	// EventPartial supersedes the previous partial for the open utterance.
	EventPartial TranscriptEventKind = iota
	// EventFinal closes transcript accumulation for the open utterance.
	EventFinal
)

// TranscriptEvent is an ephemeral recognition result for the currently open
// utterance. It is never persisted.
type TranscriptEvent struct {
	Kind     TranscriptEventKind
	Text     string
	Language string
}

// MemoryTurn is one prior raw→cleaned pair carried in a memory packet.
type MemoryTurn struct {
	SequenceNum   int64
	RawTranscript string
	Cleaned       string
	PromptReady   string
}

// MemoryPacket is the bounded context supplied per LLM request: an optional
// summary snapshot plus up to MaxMemoryTurns most recent Ready utterances.
// Derived, recomputed per call, never persisted.
type MemoryPacket struct {
	Summary string
	Turns   []MemoryTurn
}

// MaxMemoryTurns bounds the number of prior utterance pairs in a packet.
const MaxMemoryTurns = 8

// LlmResult is the validated structured output for one utterance. It is
// written into the utterance only after schema validation succeeds.
type LlmResult struct {
	DetectedLanguages []string  `json:"detected_languages"`
	RawTranscript     string    `json:"raw_transcript"`
	CleanedMeaning    string    `json:"cleaned_english_meaning"`
	PromptReady       string    `json:"prompt_ready_english"`
	RemovedFillers    bool      `json:"removed_fillers"`
	RiskLevel         RiskLevel `json:"meaning_change_risk"`
	Entities          []Entity  `json:"entities"`
	Confidence        float64   `json:"confidence_score"`
}
