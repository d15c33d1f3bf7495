package refs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type mockLookup struct {
	mu      sync.Mutex
	calls   []string
	records map[string]*Record
	errs    map[string]error
	delay   map[string]time.Duration
}

func (m *mockLookup) FindByCode(ctx context.Context, code string) (*Record, error) {
	m.mu.Lock()
	m.calls = append(m.calls, code)
	d := m.delay[code]
	m.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := m.errs[code]; err != nil {
		return nil, err
	}
	if r, ok := m.records[code]; ok {
		return r, nil
	}
	return nil, ErrNotFound
}

func (m *mockLookup) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type recordingSink struct {
	mu      sync.Mutex
	steps   []Step
	lookups []string
}

func (s *recordingSink) Extracted(_ context.Context, step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

func (s *recordingSink) LookedUp(_ context.Context, m Mention, _ time.Duration, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, m.Code)
}

func TestResolve_PartialResolution(t *testing.T) {
	t.Parallel()

	lookup := &mockLookup{
		records: map[string]*Record{
			"ABC-OP-2024-00012": {ID: "rec-1", Code: "ABC-OP-2024-00012", Kind: KindLostItem},
			"DEF-OT-2024-7":     {ID: "rec-2", Code: "DEF-OT-2024-7", Kind: KindFoundItem},
		},
		errs: map[string]error{
			"ABC-OP-2024-5": errors.New("connection reset"),
		},
	}
	sink := &recordingSink{}
	r := NewResolver(lookup, time.Second, 2, sink, Hooks{})

	text := "Une déclaration d'objet perdu a été créée (ABC-OP-2024-00012). " +
		"Rapproché de DEF-OT-2024-7, ABC-OP-2024-5 et ABC-OP-2024-9."
	res := r.Resolve(context.Background(), text)

	if got, want := codesOf(res.Resolved), []string{"ABC-OP-2024-00012", "DEF-OT-2024-7"}; !equalStrings(got, want) {
		t.Fatalf("resolved = %v, want %v", got, want)
	}
	if res.Created[0].Record == nil || res.Created[0].Record.ID != "rec-1" {
		t.Errorf("created mention not resolved: %+v", res.Created[0])
	}

	if len(res.Failures) != 2 {
		t.Fatalf("failures = %+v, want 2", res.Failures)
	}
	reasons := map[string]string{}
	for _, f := range res.Failures {
		reasons[f.Code] = f.Reason
	}
	if reasons["ABC-OP-2024-5"] != ReasonError {
		t.Errorf("ABC-OP-2024-5 reason = %q, want error", reasons["ABC-OP-2024-5"])
	}
	if reasons["ABC-OP-2024-9"] != ReasonNotFound {
		t.Errorf("ABC-OP-2024-9 reason = %q, want not_found", reasons["ABC-OP-2024-9"])
	}
	if got := codesOf(res.Unresolved); len(got) != 2 {
		t.Errorf("unresolved = %v, want 2", got)
	}

	if lookup.callCount() != 4 {
		t.Errorf("lookups = %d, want 4", lookup.callCount())
	}
	if len(sink.lookups) != 4 {
		t.Errorf("sink saw %d lookups, want 4", len(sink.lookups))
	}
	if len(sink.steps) == 0 {
		t.Error("sink saw no extraction steps")
	}
}

func TestResolve_EmptyTextIssuesNoLookups(t *testing.T) {
	t.Parallel()

	lookup := &mockLookup{}
	r := NewResolver(lookup, time.Second, 4, nil, Hooks{})

	for _, text := range []string{"", "Rien à signaler."} {
		res := r.Resolve(context.Background(), text)
		if len(res.Created) != 0 || len(res.Mentioned) != 0 || len(res.Resolved) != 0 {
			t.Errorf("Resolve(%q) = %+v, want empty", text, res)
		}
	}
	if lookup.callCount() != 0 {
		t.Errorf("lookups = %d, want 0", lookup.callCount())
	}
}

func TestResolve_TimeoutIsAFailureNotAnError(t *testing.T) {
	t.Parallel()

	lookup := &mockLookup{
		records: map[string]*Record{
			"ABC-OP-2024-1": {ID: "fast", Code: "ABC-OP-2024-1"},
			"ABC-OP-2024-2": {ID: "slow", Code: "ABC-OP-2024-2"},
		},
		delay: map[string]time.Duration{"ABC-OP-2024-2": 5 * time.Second},
	}
	r := NewResolver(lookup, 20*time.Millisecond, 4, nil, Hooks{})

	start := time.Now()
	res := r.Resolve(context.Background(), "Voir ABC-OP-2024-1 et ABC-OP-2024-2")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Resolve blocked for %v on a slow lookup", elapsed)
	}

	if len(res.Resolved) != 1 || res.Resolved[0].Code != "ABC-OP-2024-1" {
		t.Errorf("resolved = %v, want [ABC-OP-2024-1]", codesOf(res.Resolved))
	}
	if len(res.Failures) != 1 || res.Failures[0].Reason != ReasonTimeout {
		t.Fatalf("failures = %+v, want one timeout", res.Failures)
	}
	if !errors.Is(res.Failures[0], context.DeadlineExceeded) {
		t.Errorf("failure %v does not unwrap to DeadlineExceeded", res.Failures[0])
	}
}

type countingLookup struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingLookup) FindByCode(_ context.Context, code string) (*Record, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return &Record{Code: code}, nil
}

func TestResolve_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	lookup := &countingLookup{}
	r := NewResolver(lookup, time.Second, 2, nil, Hooks{})

	res := r.Resolve(context.Background(), "ABC-OP-2024-1 ABC-OP-2024-2 ABC-OP-2024-3 ABC-OP-2024-4 ABC-OP-2024-5 ABC-OP-2024-6")
	if len(res.Resolved) != 6 {
		t.Fatalf("resolved = %d, want 6", len(res.Resolved))
	}
	if p := lookup.peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestResolve_NilLookupLeavesEverythingUnresolved(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil, 0, 0, LogSink{Logger: log.Nop()}, Hooks{})
	res := r.Resolve(context.Background(), "Voir ABC-OP-2024-1")
	if len(res.Unresolved) != 1 || len(res.Resolved) != 0 || len(res.Failures) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestResolve_MetricsHooks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	lookup := &mockLookup{records: map[string]*Record{"ABC-OP-2024-1": {Code: "ABC-OP-2024-1"}}}
	r := NewResolver(lookup, time.Second, 2, nil, m.Hooks())
	r.Resolve(context.Background(), "Objet perdu enregistré sous le numéro ABC-OP-2024-1, voir ABC-OT-2024-3")

	if got := testutil.ToFloat64(m.MentionsTotal.WithLabelValues(string(ProvenanceCreated))); got != 1 {
		t.Errorf("created mentions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LookupsTotal.WithLabelValues(string(KindLostItem), "resolved")); got != 1 {
		t.Errorf("resolved lookups = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LookupsTotal.WithLabelValues(string(KindFoundItem), ReasonNotFound)); got != 1 {
		t.Errorf("not found lookups = %v, want 1", got)
	}
}

func TestResolve_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	lookup := &mockLookup{records: map[string]*Record{"ABC-OP-2024-1": {Code: "ABC-OP-2024-1"}}}
	r := NewResolver(lookup, time.Second, 2, nil, Hooks{})
	r.Resolve(context.Background(), "Voir ABC-OP-2024-1 et ABC-OP-2024-2")

	counts := make(map[string]int)
	var failed int
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++
		if s.Name == "refs.FindByCode" && s.Status.Code.String() == "Error" {
			failed++
		}
	}
	if counts["refs.Resolve"] != 1 {
		t.Errorf("refs.Resolve spans = %d, want 1", counts["refs.Resolve"])
	}
	if counts["refs.FindByCode"] != 2 {
		t.Errorf("refs.FindByCode spans = %d, want 2", counts["refs.FindByCode"])
	}
	if failed != 1 {
		t.Errorf("failed lookup spans = %d, want 1", failed)
	}
}
