package alert

import "slices"

// Viewer is the identity looking at an alert.
type Viewer struct {
	Station StationID
	Agent   AgentID
}

// Capabilities are what a viewer may do with an alert.
type Capabilities struct {
	IsOwner                    bool `json:"is_owner"`
	CanRead                    bool `json:"can_read"`
	CanViewDistributionDetails bool `json:"can_view_distribution_details"`
	CanAssign                  bool `json:"can_assign"`
}

// CapabilitiesFor computes the viewer's capabilities from the alert's
// distribution state. Only the owning station sees who received the alert,
// and the owning station never assigns: it distributes, recipients assign.
func CapabilitiesFor(a *Alert, v Viewer) Capabilities {
	b := a.Distribution.Broadcast
	owner := v.Station != "" && v.Station == a.OwnerStation

	c := Capabilities{IsOwner: owner, CanRead: owner}
	if b == nil {
		return c
	}
	c.CanViewDistributionDetails = owner
	c.CanAssign = !owner && v.Station != "" && b.Targets(v.Station)
	if !owner {
		c.CanRead = (v.Station != "" && b.Targets(v.Station)) ||
			(v.Agent != "" && slices.Contains(b.Agents, v.Agent))
	}
	return c
}

// RedactFor returns a copy of a stripped of distribution details the viewer
// may not see: the recipient lists and other stations' assignments.
func RedactFor(a *Alert, v Viewer, c Capabilities) *Alert {
	out := a.Clone()
	if c.CanViewDistributionDetails || c.IsOwner {
		return out
	}
	if b := out.Distribution.Broadcast; b != nil {
		b.Stations = nil
		b.Agents = nil
	}
	own := out.Distribution.Assignments[v.Station]
	out.Distribution.Assignments = nil
	if own != nil {
		out.Distribution.Assignments = map[StationID]*Assignment{v.Station: own}
	}
	out.Distribution.Internal = nil
	return out
}
