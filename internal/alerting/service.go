package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/watchpost/internal/alert"
	"github.com/linnemanlabs/watchpost/internal/identity"
	"github.com/linnemanlabs/watchpost/internal/refs"
	"github.com/oklog/ulid/v2"
)

// Hooks are optional callbacks for instrumentation.
type Hooks struct {
	OnCreate   func(category alert.Category)
	OnMutation func(op, outcome string, duration float64)
	OnLockWait func(duration float64)
	OnNotify   func(event Event, err error)
}

// Mutation outcomes reported to Hooks.OnMutation.
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// View is an alert as one viewer may see it, with what they may do next.
type View struct {
	Alert        *alert.Alert       `json:"alert"`
	Capabilities alert.Capabilities `json:"capabilities"`
	Actions      []alert.Action     `json:"actions"`
}

// Service is the business boundary for alert operations.
type Service struct {
	store    Store
	locker   Locker
	notifier Notifier
	resolver *refs.Resolver
	logger   log.Logger
	hooks    Hooks

	now   func() time.Time
	newID func() string

	inflight sync.WaitGroup
}

// NewService creates a new alert service. A nil locker falls back to an
// in-process KeyedMutex; a nil notifier drops notifications.
func NewService(store Store, locker Locker, notifier Notifier, resolver *refs.Resolver, logger log.Logger, hooks Hooks) *Service {
	if locker == nil {
		locker = &KeyedMutex{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		store:    store,
		locker:   locker,
		notifier: notifier,
		resolver: resolver,
		logger:   logger,
		hooks:    hooks,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return ulid.Make().String() },
	}
}

// Create raises a new alert owned by the caller's station.
func (s *Service) Create(ctx context.Context, who identity.Identity, d alert.Draft) (*View, error) {
	now := s.now()
	a, err := alert.New(s.newID(), d, who.Actor(), now)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	if s.hooks.OnCreate != nil {
		s.hooks.OnCreate(a.Category)
	}

	s.logger.Info(ctx, "alert created",
		"alert_id", a.ID,
		"reference", a.Reference,
		"category", a.Category,
		"severity", a.Severity,
		"station_id", a.OwnerStation,
	)
	s.dispatch(ctx, newNotification(s.newID(), EventCreated, a, who.Actor(), Recipients{}, now))

	return viewFor(a, who), nil
}

// View loads an alert as the caller may see it.
func (s *Service) View(ctx context.Context, who identity.Identity, id string) (*View, error) {
	a, err := s.loadReadable(ctx, who, id)
	if err != nil {
		return nil, err
	}
	return viewFor(a, who), nil
}

// References mines the alert narrative for lost and found record references.
// The result is recomputed on every call and never stored on the alert.
func (s *Service) References(ctx context.Context, who identity.Identity, id string) (*refs.Result, error) {
	a, err := s.loadReadable(ctx, who, id)
	if err != nil {
		return nil, err
	}
	if s.resolver == nil {
		return &refs.Result{}, nil
	}
	return s.resolver.Resolve(ctx, a.Narrative()), nil
}

// DeployIntervention starts the field response.
func (s *Service) DeployIntervention(ctx context.Context, who identity.Identity, id string, team []alert.TeamMember, resources []string, departedAt time.Time) (*View, error) {
	return s.mutate(ctx, who, id, "deploy_intervention", func(a *alert.Alert, _ alert.Capabilities, at time.Time) (*Notification, bool, error) {
		return nil, true, a.DeployIntervention(team, resources, departedAt, who.Actor(), at)
	})
}

// UpdateIntervention moves the intervention along its stages.
func (s *Service) UpdateIntervention(ctx context.Context, who identity.Identity, id string, u alert.InterventionUpdate) (*View, error) {
	return s.mutate(ctx, who, id, "update_intervention", func(a *alert.Alert, _ alert.Capabilities, at time.Time) (*Notification, bool, error) {
		return nil, true, a.UpdateIntervention(u, who.Actor(), at)
	})
}

// AddEvaluation records the assessment of the situation.
func (s *Service) AddEvaluation(ctx context.Context, who identity.Identity, id string, e alert.Evaluation) (*View, error) {
	return s.mutate(ctx, who, id, "evaluate", func(a *alert.Alert, _ alert.Capabilities, at time.Time) (*Notification, bool, error) {
		return nil, true, a.AddEvaluation(e, who.Actor(), at)
	})
}

// AddReport records the closing report.
func (s *Service) AddReport(ctx context.Context, who identity.Identity, id string, r alert.Report) (*View, error) {
	return s.mutate(ctx, who, id, "report", func(a *alert.Alert, _ alert.Capabilities, at time.Time) (*Notification, bool, error) {
		return nil, true, a.AddReport(r, who.Actor(), at)
	})
}

// Resolve closes out an open alert. Only the owning station may resolve.
func (s *Service) Resolve(ctx context.Context, who identity.Identity, id string, res alert.Resolution) (*View, error) {
	return s.mutate(ctx, who, id, "resolve", func(a *alert.Alert, c alert.Capabilities, at time.Time) (*Notification, bool, error) {
		if err := a.EnsureMutable(); err != nil {
			return nil, false, err
		}
		if !c.IsOwner {
			return nil, false, alert.Forbidden("station_id", "only the owning station can resolve alert %s", a.ID)
		}
		if err := a.Resolve(res, who.Actor(), at); err != nil {
			return nil, false, err
		}
		ev := EventResolved
		if a.Status == alert.StatusArchived {
			ev = EventArchived
		}
		n := newNotification(s.newID(), ev, a, who.Actor(), broadcastRecipients(a.Distribution.Broadcast), at)
		return &n, true, nil
	})
}

// Close archives a resolved alert. Only the owning station may close.
func (s *Service) Close(ctx context.Context, who identity.Identity, id string) (*View, error) {
	return s.mutate(ctx, who, id, "close", func(a *alert.Alert, c alert.Capabilities, at time.Time) (*Notification, bool, error) {
		if err := a.EnsureMutable(); err != nil {
			return nil, false, err
		}
		if !c.IsOwner {
			return nil, false, alert.Forbidden("station_id", "only the owning station can close alert %s", a.ID)
		}
		if err := a.Close(who.Actor(), at); err != nil {
			return nil, false, err
		}
		n := newNotification(s.newID(), EventArchived, a, who.Actor(), broadcastRecipients(a.Distribution.Broadcast), at)
		return &n, true, nil
	})
}

// Broadcast distributes the alert to other stations and agents.
func (s *Service) Broadcast(ctx context.Context, who identity.Identity, id string, req alert.BroadcastRequest) (*View, error) {
	return s.mutate(ctx, who, id, "broadcast", func(a *alert.Alert, _ alert.Capabilities, at time.Time) (*Notification, bool, error) {
		changed, err := a.Broadcast(req, who.Actor(), at)
		if err != nil || !changed {
			return nil, false, err
		}
		n := newNotification(s.newID(), EventBroadcast, a, who.Actor(), broadcastRecipients(a.Distribution.Broadcast), at)
		return &n, true, nil
	})
}

// Assign records which agents of the caller's station handle the alert. The
// recipient station is always the caller's own.
func (s *Service) Assign(ctx context.Context, who identity.Identity, id string, req alert.AssignRequest) (*View, error) {
	return s.mutate(ctx, who, id, "assign", func(a *alert.Alert, _ alert.Capabilities, at time.Time) (*Notification, bool, error) {
		changed, err := a.Assign(who.Station, req, who.Actor(), at)
		if err != nil || !changed {
			return nil, false, err
		}
		n := newNotification(s.newID(), EventAssigned, a, who.Actor(), assignmentRecipients(a.Distribution.Assignments[who.Station]), at)
		return &n, true, nil
	})
}

// DiffuseInternally informs agents of the owning station.
func (s *Service) DiffuseInternally(ctx context.Context, who identity.Identity, id string, req alert.DiffusionRequest) (*View, error) {
	return s.mutate(ctx, who, id, "internal_diffusion", func(a *alert.Alert, _ alert.Capabilities, at time.Time) (*Notification, bool, error) {
		changed, err := a.DiffuseInternally(req, who.Actor(), at)
		if err != nil || !changed {
			return nil, false, err
		}
		n := newNotification(s.newID(), EventDiffused, a, who.Actor(), assignmentRecipients(a.Distribution.Internal), at)
		return &n, true, nil
	})
}

// AddWitness appends a witness statement.
func (s *Service) AddWitness(ctx context.Context, who identity.Identity, id string, w alert.Witness) (*View, error) {
	w.ID = s.newID()
	return s.mutate(ctx, who, id, "add_witness", func(a *alert.Alert, _ alert.Capabilities, at time.Time) (*Notification, bool, error) {
		return nil, true, a.AddWitness(w, who.Actor(), at)
	})
}

// AddDocument appends a document reference.
func (s *Service) AddDocument(ctx context.Context, who identity.Identity, id string, d alert.Document) (*View, error) {
	d.ID = s.newID()
	return s.mutate(ctx, who, id, "add_document", func(a *alert.Alert, _ alert.Capabilities, at time.Time) (*Notification, bool, error) {
		return nil, true, a.AddDocument(d, who.Actor(), at)
	})
}

// AddFollowUp appends a timeline event.
func (s *Service) AddFollowUp(ctx context.Context, who identity.Identity, id string, e alert.TimelineEvent) (*View, error) {
	e.ID = s.newID()
	return s.mutate(ctx, who, id, "add_follow_up", func(a *alert.Alert, _ alert.Capabilities, at time.Time) (*Notification, bool, error) {
		return nil, true, a.AddFollowUp(e, who.Actor(), at)
	})
}

// Wait blocks until in-flight notifications are delivered or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyFunc applies one decision to a private copy of the alert. It returns
// the notification to publish after commit, and whether anything changed.
type applyFunc func(a *alert.Alert, c alert.Capabilities, at time.Time) (*Notification, bool, error)

// mutate runs a read-modify-write under the alert's lock. Business errors
// from apply are returned as is. Once apply succeeds the save runs detached
// from ctx so a caller hanging up cannot leave the write half issued.
func (s *Service) mutate(ctx context.Context, who identity.Identity, id, op string, apply applyFunc) (*View, error) {
	start := time.Now()
	outcome := OutcomeApplied
	defer func() {
		if s.hooks.OnMutation != nil {
			s.hooks.OnMutation(op, outcome, time.Since(start).Seconds())
		}
	}()

	L := s.logger.With("alert_id", id, "op", op, "station_id", who.Station, "agent_id", who.Agent)

	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		outcome = OutcomeError
		return nil, fmt.Errorf("lock alert %s: %w", id, err)
	}
	defer unlock()
	if s.hooks.OnLockWait != nil {
		s.hooks.OnLockWait(time.Since(start).Seconds())
	}

	cur, err := s.loadReadable(ctx, who, id)
	if err != nil {
		outcome = outcomeOf(err)
		return nil, err
	}

	next := cur.Clone()
	at := s.now()
	n, changed, err := apply(next, alert.CapabilitiesFor(cur, who.Viewer()), at)
	if err != nil {
		outcome = OutcomeRejected
		L.Info(ctx, "alert mutation rejected", "error", err)
		return nil, err
	}
	if !changed {
		outcome = OutcomeNoop
		return viewFor(cur, who), nil
	}

	if err := s.store.Save(context.WithoutCancel(ctx), next, cur.Version); err != nil {
		outcome = outcomeOf(err)
		if errors.Is(err, alert.ErrVersionConflict) {
			L.Warn(ctx, "alert version conflict", "expected_version", cur.Version)
			return nil, err
		}
		return nil, fmt.Errorf("save alert %s: %w", id, err)
	}

	L.Info(ctx, "alert updated", "status", next.Status, "version", next.Version)

	if n != nil {
		n.Version = next.Version
		s.dispatch(ctx, *n)
	}
	return viewFor(next, who), nil
}

// loadReadable loads an alert and checks the caller may read it.
func (s *Service) loadReadable(ctx context.Context, who identity.Identity, id string) (*alert.Alert, error) {
	if who.Station == "" {
		return nil, alert.Forbidden("station_id", "caller has no station")
	}
	a, ok, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load alert %s: %w", id, err)
	}
	if !ok {
		return nil, alert.NotFound(id)
	}
	if !alert.CapabilitiesFor(a, who.Viewer()).CanRead {
		return nil, alert.Forbidden("station_id", "station %s cannot access alert %s", who.Station, id)
	}
	return a, nil
}

// dispatch publishes n in the background after the mutation committed.
func (s *Service) dispatch(ctx context.Context, n Notification) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx := context.WithoutCancel(ctx)
		L := s.logger.With("alert_id", n.AlertID, "event", n.Event, "notification_id", n.ID)

		err := s.notifier.Notify(ctx, n)
		if s.hooks.OnNotify != nil {
			s.hooks.OnNotify(n.Event, err)
		}
		if err != nil {
			L.Error(ctx, err, "failed to deliver alert notification")
			return
		}
		L.Info(ctx, "alert notification delivered")
	}()
}

func viewFor(a *alert.Alert, who identity.Identity) *View {
	c := alert.CapabilitiesFor(a, who.Viewer())
	return &View{
		Alert:        alert.RedactFor(a, who.Viewer(), c),
		Capabilities: c,
		Actions:      alert.AvailableActions(a, c),
	}
}

func outcomeOf(err error) string {
	var e *alert.Error
	switch {
	case errors.Is(err, alert.ErrVersionConflict):
		return OutcomeConflict
	case errors.As(err, &e):
		return OutcomeRejected
	}
	return OutcomeError
}
