package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

// Config tunes the orchestrator. Zero values take defaults.
type Config struct {
	// Timeout bounds one Process call end to end, including the schema
	// retry. Default 8s.
	Timeout time.Duration
	// CacheSize bounds the result cache. Default 256 entries.
	CacheSize int

	// Optional instrumentation; nil fields are skipped.
	Retries   prometheus.Counter
	CacheHits prometheus.Counter
	Duration  prometheus.Observer
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
}

// Orchestrator combines mode policy, memory packet, and the current
// transcript into one structured-output request, validates the response,
// and caches validated results.
type Orchestrator struct {
	gen    Generator
	cfg    Config
	cache  *resultCache
	logger *slog.Logger
}

// NewOrchestrator wires an orchestrator over the given generator.
func NewOrchestrator(gen Generator, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gen:    gen,
		cfg:    cfg,
		cache:  newResultCache(cfg.CacheSize),
		logger: logger,
	}
}

// Process cleans one committed transcript. On a schema violation the call
// retries exactly once with a reinforced instruction; a second violation
// surfaces as a provider error. A cache hit returns the earlier validated
// result without touching the provider.
func (o *Orchestrator) Process(ctx context.Context, u types.Utterance, packet types.MemoryPacket, mode types.Mode) (*types.LlmResult, error) {
	key := cacheKey(u.RawTranscript, mode, packet.Summary)
	if cached, ok := o.cache.get(key); ok {
		o.logger.Debug("cleanup cache hit", "utterance_id", u.ID)
		if o.cfg.CacheHits != nil {
			o.cfg.CacheHits.Inc()
		}
		result := cached
		return &result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	started := time.Now()
	if o.cfg.Duration != nil {
		defer func() {
			o.cfg.Duration.Observe(time.Since(started).Seconds())
		}()
	}

	system := systemPrompt(mode)
	user := buildUserPrompt(u.RawTranscript, packet)

	result, err := o.call(ctx, system, user)
	if err != nil && Kind(err) == KindSchemaInvalid {
		o.logger.Warn("schema violation, retrying with reinforced instruction",
			"utterance_id", u.ID, "error", err)
		if o.cfg.Retries != nil {
			o.cfg.Retries.Inc()
		}
		result, err = o.call(ctx, system+schemaReinforcement, user)
		if err != nil && Kind(err) == KindSchemaInvalid {
			err = &Error{Kind: KindProvider, Message: "schema invalid after retry", Err: err}
		}
	}
	if err != nil {
		return nil, o.mapDeadline(ctx, err)
	}

	// The model echoes the transcript; the stored original is authoritative.
	result.RawTranscript = u.RawTranscript
	o.cache.put(key, *result)
	return result, nil
}

// Summarize produces an updated rolling summary over plain text. It
// satisfies the memory package's Summarizer.
func (o *Orchestrator) Summarize(ctx context.Context, previous string, transcripts []string) (string, error) {
	text, err := o.gen.GenerateText(ctx, buildSummaryPrompt(previous, transcripts))
	if err != nil {
		return "", o.mapDeadline(ctx, err)
	}
	return strings.TrimSpace(text), nil
}

func (o *Orchestrator) call(ctx context.Context, system, user string) (*types.LlmResult, error) {
	raw, err := o.gen.GenerateJSON(ctx, system, user, responseSchema)
	if err != nil {
		return nil, err
	}
	return validateResult(raw)
}

// mapDeadline rewrites deadline expiry as a timeout error; everything else
// passes through.
func (o *Orchestrator) mapDeadline(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "call exceeded deadline", Err: err}
	}
	return err
}
