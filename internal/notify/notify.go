// Package notify composes alerting.Notifier implementations: fan-out to
// several transports, de-duplication, and recipient expansion through the
// station directory.
package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/watchpost/internal/alert"
	"github.com/linnemanlabs/watchpost/internal/alerting"
)

// Named is implemented by notifiers that can name themselves in errors.
type Named interface {
	Name() string
}

// Fanout delivers every notification to all notifiers concurrently. One
// failing transport does not stop the others; errors are joined.
type Fanout []alerting.Notifier

// Notify implements alerting.Notifier.
func (f Fanout) Notify(ctx context.Context, n alerting.Notification) error {
	errs := make([]error, len(f))
	var g errgroup.Group
	for i, next := range f {
		g.Go(func() error {
			if err := next.Notify(ctx, n); err != nil {
				errs[i] = fmt.Errorf("%s: %w", nameOf(next, i), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func nameOf(n alerting.Notifier, i int) string {
	if nn, ok := n.(Named); ok {
		return nn.Name()
	}
	return fmt.Sprintf("notifier[%d]", i)
}

// Dedup drops notifications whose ID was already delivered. Only successful
// deliveries are remembered, so a failed one can be retried.
type Dedup struct {
	next alerting.Notifier
	seen *expirable.LRU[string, struct{}]
}

// NewDedup remembers up to size notification IDs for ttl each.
func NewDedup(next alerting.Notifier, size int, ttl time.Duration) *Dedup {
	if size <= 0 {
		size = 1024
	}
	return &Dedup{next: next, seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Notify implements alerting.Notifier.
func (d *Dedup) Notify(ctx context.Context, n alerting.Notification) error {
	if n.ID != "" && d.seen.Contains(n.ID) {
		return nil
	}
	if err := d.next.Notify(ctx, n); err != nil {
		return err
	}
	if n.ID != "" {
		d.seen.Add(n.ID, struct{}{})
	}
	return nil
}

// Directory lists stations and their agents.
type Directory interface {
	Stations() []alert.StationID
	Agents(station alert.StationID) []alert.AgentID
}

// Expander rewrites recipients into concrete stations and agents before
// handing the notification on: AllStations becomes every station except the
// owner, and each addressed station contributes all of its agents.
type Expander struct {
	next alerting.Notifier
	dir  Directory
}

// NewExpander wraps next.
func NewExpander(next alerting.Notifier, dir Directory) *Expander {
	return &Expander{next: next, dir: dir}
}

// Notify implements alerting.Notifier.
func (e *Expander) Notify(ctx context.Context, n alerting.Notification) error {
	n.Recipients = Expand(e.dir, n.OwnerStation, n.Recipients)
	return e.next.Notify(ctx, n)
}

// Expand resolves r against dir. Explicit agents are kept first, in order.
func Expand(dir Directory, owner alert.StationID, r alerting.Recipients) alerting.Recipients {
	stations := slices.Clone(r.Stations)
	if r.AllStations {
		for _, s := range dir.Stations() {
			if s != owner && !slices.Contains(stations, s) {
				stations = append(stations, s)
			}
		}
	}

	agents := slices.Clone(r.Agents)
	for _, s := range stations {
		for _, a := range dir.Agents(s) {
			if !slices.Contains(agents, a) {
				agents = append(agents, a)
			}
		}
	}
	return alerting.Recipients{AllStations: r.AllStations, Stations: stations, Agents: agents}
}
