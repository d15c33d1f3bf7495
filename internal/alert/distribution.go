package alert

import (
	"slices"
	"strings"
	"time"
)

// BroadcastRequest selects who receives an inter-station broadcast.
type BroadcastRequest struct {
	General  bool
	Stations []StationID
	Agents   []AgentID
}

// AssignRequest selects which agents of a recipient station are assigned.
type AssignRequest struct {
	General bool
	Agents  []AgentID
}

// DiffusionRequest selects which agents of the owning station are informed.
// Responsible is the single distinguished agent in charge, if any.
type DiffusionRequest struct {
	General     bool
	Agents      []AgentID
	Responsible AgentID
}

// Broadcast distributes the alert outward from its owning station. It is a
// one-time operation; repeating the exact same broadcast is a no-op and
// reports changed=false.
func (a *Alert) Broadcast(req BroadcastRequest, by Actor, at time.Time) (changed bool, err error) {
	if err := a.EnsureMutable(); err != nil {
		return false, err
	}
	if by.Station != a.OwnerStation {
		return false, Forbidden("station_id", "only the owning station can broadcast alert %s", a.ID)
	}

	next := &Broadcast{General: req.General, By: by, At: at}
	if !req.General {
		next.Stations = uniqueIDs(req.Stations, a.OwnerStation)
		next.Agents = uniqueIDs(req.Agents, "")
		if len(next.Stations) == 0 && len(next.Agents) == 0 {
			return false, newError(KindEmptyDistribution, "station_ids", "a selective broadcast needs at least one station or agent")
		}
	}

	if cur := a.Distribution.Broadcast; cur != nil {
		if cur.General == next.General && slices.Equal(cur.Stations, next.Stations) && slices.Equal(cur.Agents, next.Agents) {
			return false, nil
		}
		return false, newError(KindPrecondition, "broadcast", "alert %s was already broadcast", a.ID)
	}

	a.Distribution.Broadcast = next
	a.touch(at)
	return true, nil
}

// Assign records which agents of the recipient station handle the alert. The
// record for that station is replaced, never merged.
func (a *Alert) Assign(recipient StationID, req AssignRequest, by Actor, at time.Time) (changed bool, err error) {
	if err := a.EnsureMutable(); err != nil {
		return false, err
	}
	if recipient == "" {
		return false, Invalid("recipient_station_id", "recipient station is required")
	}
	if recipient == a.OwnerStation {
		return false, Forbidden("recipient_station_id", "the owning station distributes alert %s and cannot assign it", a.ID)
	}
	if !CapabilitiesFor(a, Viewer{Station: recipient}).CanAssign {
		return false, Forbidden("broadcast", "station %s did not receive alert %s", recipient, a.ID)
	}

	next, err := buildAssignment(recipient, req.General, req.Agents, "", by, at)
	if err != nil {
		return false, err
	}
	if a.Distribution.Assignments[recipient].equivalent(next) {
		return false, nil
	}
	if a.Distribution.Assignments == nil {
		a.Distribution.Assignments = make(map[StationID]*Assignment)
	}
	a.Distribution.Assignments[recipient] = next
	a.touch(at)
	return true, nil
}

// DiffuseInternally fans the alert out to agents of its own station,
// independently of any broadcast.
func (a *Alert) DiffuseInternally(req DiffusionRequest, by Actor, at time.Time) (changed bool, err error) {
	if err := a.EnsureMutable(); err != nil {
		return false, err
	}
	if by.Station != a.OwnerStation {
		return false, Forbidden("station_id", "only the owning station can diffuse alert %s internally", a.ID)
	}

	responsible := AgentID(strings.TrimSpace(string(req.Responsible)))
	next, err := buildAssignment(a.OwnerStation, req.General, req.Agents, responsible, by, at)
	if err != nil {
		return false, err
	}
	if a.Distribution.Internal.equivalent(next) {
		return false, nil
	}
	a.Distribution.Internal = next
	a.touch(at)
	return true, nil
}

func buildAssignment(station StationID, general bool, agents []AgentID, responsible AgentID, by Actor, at time.Time) (*Assignment, error) {
	as := &Assignment{Station: station, Responsible: responsible, By: by, At: at}
	if general {
		as.Mode = AssignGeneral
		return as, nil
	}
	as.Mode = AssignSelective
	as.Agents = uniqueIDs(agents, "")
	if len(as.Agents) == 0 && responsible == "" {
		return nil, newError(KindEmptyDistribution, "agent_ids", "a selective assignment needs at least one agent")
	}
	return as, nil
}

// uniqueIDs trims ids, drops empties, duplicates and skip, keeping first-seen order.
func uniqueIDs[T ~string](ids []T, skip T) []T {
	var out []T
	for _, id := range ids {
		id = T(strings.TrimSpace(string(id)))
		if id == "" || id == skip || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
