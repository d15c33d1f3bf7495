package alerting

import (
	"context"
	"slices"
	"time"

	"github.com/linnemanlabs/watchpost/internal/alert"
)

// Event names what happened to an alert.
type Event string

const (
	EventCreated   Event = "alert.created"
	EventBroadcast Event = "alert.broadcast"
	EventAssigned  Event = "alert.assigned"
	EventDiffused  Event = "alert.diffused"
	EventResolved  Event = "alert.resolved"
	EventArchived  Event = "alert.archived"
)

// Recipients says who should hear about an event. AllStations means every
// station except the owner; Stations means every agent of those stations.
type Recipients struct {
	AllStations bool              `json:"all_stations,omitempty"`
	Stations    []alert.StationID `json:"station_ids,omitempty"`
	Agents      []alert.AgentID   `json:"agent_ids,omitempty"`
}

// Empty reports whether nobody is addressed.
func (r Recipients) Empty() bool {
	return !r.AllStations && len(r.Stations) == 0 && len(r.Agents) == 0
}

// Notification is published after a mutation commits.
type Notification struct {
	ID           string          `json:"id"`
	Event        Event           `json:"event"`
	AlertID      string          `json:"alert_id"`
	Reference    string          `json:"reference"`
	Title        string          `json:"title"`
	Category     alert.Category  `json:"category"`
	Severity     alert.Severity  `json:"severity"`
	Status       alert.Status    `json:"status"`
	OwnerStation alert.StationID `json:"owner_station_id"`
	Actor        alert.Actor     `json:"actor"`
	Recipients   Recipients      `json:"recipients"`
	Version      int64           `json:"version"`
	At           time.Time       `json:"at"`
}

// Notifier delivers notifications. Delivery is best effort: a failure is
// logged and counted and never undoes the mutation that triggered it.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }

func newNotification(id string, ev Event, a *alert.Alert, by alert.Actor, to Recipients, at time.Time) Notification {
	return Notification{
		ID:           id,
		Event:        ev,
		AlertID:      a.ID,
		Reference:    a.Reference,
		Title:        a.Title,
		Category:     a.Category,
		Severity:     a.Severity,
		Status:       a.Status,
		OwnerStation: a.OwnerStation,
		Actor:        by,
		Recipients:   to,
		Version:      a.Version,
		At:           at,
	}
}

func broadcastRecipients(b *alert.Broadcast) Recipients {
	if b == nil {
		return Recipients{}
	}
	if b.General {
		return Recipients{AllStations: true}
	}
	return Recipients{Stations: b.Stations, Agents: b.Agents}
}

func assignmentRecipients(as *alert.Assignment) Recipients {
	if as == nil {
		return Recipients{}
	}
	if as.Mode == alert.AssignGeneral {
		return Recipients{Stations: []alert.StationID{as.Station}}
	}
	agents := as.Agents
	if as.Responsible != "" && !slices.Contains(agents, as.Responsible) {
		agents = append(append([]alert.AgentID(nil), agents...), as.Responsible)
	}
	return Recipients{Agents: agents}
}
