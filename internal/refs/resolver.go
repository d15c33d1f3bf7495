package refs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/linnemanlabs/watchpost/internal/refs")

const (
	DefaultLookupTimeout     = 3 * time.Second
	DefaultLookupConcurrency = 8
)

// Hooks are optional callbacks for instrumentation.
type Hooks struct {
	OnExtract func(created, mentioned int)
	OnLookup  func(kind Kind, outcome string, duration float64)
}

// Result is an extraction with lookups applied. Mentions in Created and
// Mentioned carry a Record when resolved; Resolved and Unresolved split the
// same mentions by outcome.
type Result struct {
	Created    []Mention       `json:"created"`
	Mentioned  []Mention       `json:"mentioned"`
	Resolved   []Mention       `json:"resolved"`
	Unresolved []Mention       `json:"unresolved"`
	Failures   []LookupFailure `json:"failures,omitempty"`
}

// Resolver extracts references from narratives and resolves them.
type Resolver struct {
	lookup      Lookup
	timeout     time.Duration
	concurrency int
	sink        Sink
	hooks       Hooks
}

// NewResolver creates a resolver. Non-positive timeout and concurrency fall
// back to the defaults; a nil sink discards diagnostics.
func NewResolver(lookup Lookup, timeout time.Duration, concurrency int, sink Sink, hooks Hooks) *Resolver {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	if concurrency <= 0 {
		concurrency = DefaultLookupConcurrency
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Resolver{
		lookup:      lookup,
		timeout:     timeout,
		concurrency: concurrency,
		sink:        sink,
		hooks:       hooks,
	}
}

// Resolve extracts mentions from text and looks every one of them up
// concurrently, each under its own timeout. A failed lookup leaves its
// mention unresolved and is reported in Failures; Resolve itself never fails.
func (r *Resolver) Resolve(ctx context.Context, text string) *Result {
	ex := Extract(text)
	for _, step := range ex.Steps {
		r.sink.Extracted(ctx, step)
	}
	if r.hooks.OnExtract != nil {
		r.hooks.OnExtract(len(ex.Created), len(ex.Mentioned))
	}

	res := &Result{
		Created:    ex.Created,
		Mentioned:  ex.Mentioned,
		Resolved:   []Mention{},
		Unresolved: []Mention{},
	}
	if ex.Empty() || r.lookup == nil {
		res.Unresolved = append(res.Unresolved, ex.All()...)
		return res
	}

	ctx, span := tracer.Start(ctx, "refs.Resolve", trace.WithAttributes(
		attribute.Int("refs.created", len(ex.Created)),
		attribute.Int("refs.mentioned", len(ex.Mentioned)),
	))
	defer span.End()

	all := ex.All()
	errs := make([]error, len(all))

	// lookup errors are collected per slot, never returned, so the group
	// never cancels siblings
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i := range all {
		g.Go(func() error {
			rec, err := r.find(ctx, all[i])
			all[i].Record = rec
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	for i, m := range all {
		if errs[i] != nil {
			res.Unresolved = append(res.Unresolved, m)
			res.Failures = append(res.Failures, LookupFailure{
				Code:   m.Code,
				Kind:   m.Kind,
				Reason: failureReason(errs[i]),
				Err:    errs[i],
			})
			continue
		}
		res.Resolved = append(res.Resolved, m)
	}
	copy(res.Created, all[:len(ex.Created)])
	copy(res.Mentioned, all[len(ex.Created):])

	span.SetAttributes(
		attribute.Int("refs.resolved", len(res.Resolved)),
		attribute.Int("refs.failed", len(res.Failures)),
	)
	return res
}

func (r *Resolver) find(ctx context.Context, m Mention) (*Record, error) {
	ctx, span := tracer.Start(ctx, "refs.FindByCode", trace.WithAttributes(
		attribute.String("refs.code", m.Code),
		attribute.String("refs.kind", string(m.Kind)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	rec, err := r.lookup.FindByCode(ctx, m.Code)
	if err == nil && rec == nil {
		err = ErrNotFound
	}
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	elapsed := time.Since(start)

	m.Record = rec
	r.sink.LookedUp(ctx, m, elapsed, err)

	outcome := "resolved"
	if err != nil {
		outcome = failureReason(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	if r.hooks.OnLookup != nil {
		r.hooks.OnLookup(m.Kind, outcome, elapsed.Seconds())
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
