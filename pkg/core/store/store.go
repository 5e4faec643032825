// Package store defines the persistence boundary for sessions and
// utterances, with a SQLite-backed implementation and an in-memory one.
package store

import (
	"context"
	"errors"

	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

// ErrNotFound is returned when a session or utterance does not exist.
var ErrNotFound = errors.New("store: not found")

// StatusUpdate carries the fields written when an utterance changes status.
// Nil pointers leave the stored value untouched.
type StatusUpdate struct {
	Status         types.UtteranceStatus
	RawTranscript  *string
	CleanedMeaning *string
	PromptReady    *string
	RiskLevel      *types.RiskLevel
	DetectedLangs  []string
	Entities       []types.Entity
}

// Store is the persistence collaborator the session core depends on.
type Store interface {
	CreateSession(ctx context.Context, s types.Session) error
	SaveSummary(ctx context.Context, sessionID, summary string) error

	Append(ctx context.Context, u types.Utterance) error
	UpdateStatus(ctx context.Context, utteranceID string, update StatusUpdate) error

	// ListReady returns up to limit Ready utterances for the session with
	// sequenceNum < beforeSeq, in ascending sequence order.
	ListReady(ctx context.Context, sessionID string, beforeSeq int64, limit int) ([]types.Utterance, error)

	Close() error
}
