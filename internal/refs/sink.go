package refs

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Sink receives extraction and lookup diagnostics. Results never depend on
// what a sink does with them.
type Sink interface {
	Extracted(ctx context.Context, step Step)
	LookedUp(ctx context.Context, m Mention, d time.Duration, err error)
}

// NopSink discards diagnostics.
type NopSink struct{}

func (NopSink) Extracted(context.Context, Step) {}
func (NopSink) LookedUp(context.Context, Mention, time.Duration, error) {}

// LogSink writes diagnostics to a logger.
type LogSink struct {
	Logger log.Logger
}

func (s LogSink) Extracted(ctx context.Context, step Step) {
	s.Logger.Info(ctx, "reference pattern matched",
		"outcome", step.Outcome,
		"kind", step.Kind,
		"code", step.Code,
		"pattern", step.Pattern,
	)
}

func (s LogSink) LookedUp(ctx context.Context, m Mention, d time.Duration, err error) {
	if err != nil {
		s.Logger.Warn(ctx, "reference lookup failed",
			"kind", m.Kind,
			"code", m.Code,
			"reason", failureReason(err),
			"duration_ms", d.Milliseconds(),
			"error", err,
		)
		return
	}
	s.Logger.Info(ctx, "reference resolved",
		"kind", m.Kind,
		"code", m.Code,
		"duration_ms", d.Milliseconds(),
	)
}
