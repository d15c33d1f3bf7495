package alert

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Draft is the input for raising a new alert.
type Draft struct {
	Category    Category
	Severity    Severity
	Title       string
	Description string
	Context     string
	Risks       []string
	Payload     Payload
}

// New validates d and returns an open alert owned by the creator's station.
func New(id string, d Draft, creator Actor, at time.Time) (*Alert, error) {
	if creator.Station == "" {
		return nil, Invalid("owner_station_id", "creator station is required")
	}
	if !d.Category.Valid() {
		return nil, Invalid("category", "unknown category %q", d.Category)
	}
	if !d.Severity.Valid() {
		return nil, Invalid("severity", "unknown severity %q", d.Severity)
	}
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return nil, Invalid("title", "title is required")
	}

	payload := d.Payload
	if payload == nil {
		p, err := newPayload(d.Category)
		if err != nil {
			return nil, err
		}
		payload = p
	}
	if !payload.accepts(d.Category) {
		return nil, Invalid("payload", "payload %T does not fit category %s", payload, d.Category)
	}

	return &Alert{
		ID:           id,
		Reference:    NewReference(creator.Station, id, at),
		Category:     d.Category,
		Severity:     d.Severity,
		Title:        title,
		Description:  d.Description,
		Context:      d.Context,
		Risks:        compactStrings(d.Risks),
		Payload:      payload,
		Status:       StatusOpen,
		OwnerStation: creator.Station,
		CreatedBy:    creator.Agent,
		CreatedAt:    at,
		UpdatedAt:    at,
	}, nil
}

// NewReference builds the human-readable alert code, e.g. ABC-AL-2026-7Q2KD.
func NewReference(station StationID, id string, at time.Time) string {
	suffix := strings.ToUpper(id)
	if len(suffix) > 5 {
		suffix = suffix[len(suffix)-5:]
	}
	return fmt.Sprintf("%s-AL-%d-%s", strings.ToUpper(string(station)), at.Year(), suffix)
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (a *Alert) Clone() *Alert {
	cp := *a
	cp.Risks = slices.Clone(a.Risks)
	if a.Payload != nil {
		cp.Payload = a.Payload.clone()
	}
	cp.Distribution = a.Distribution.clone()
	if a.Intervention != nil {
		iv := *a.Intervention
		iv.Team = slices.Clone(a.Intervention.Team)
		iv.Resources = slices.Clone(a.Intervention.Resources)
		iv.ArrivedAt = cloneTime(a.Intervention.ArrivedAt)
		iv.EndedAt = cloneTime(a.Intervention.EndedAt)
		iv.UpdatedAt = cloneTime(a.Intervention.UpdatedAt)
		if a.Intervention.UpdatedBy != nil {
			by := *a.Intervention.UpdatedBy
			iv.UpdatedBy = &by
		}
		cp.Intervention = &iv
	}
	if a.Evaluation != nil {
		ev := *a.Evaluation
		ev.Findings = slices.Clone(a.Evaluation.Findings)
		cp.Evaluation = &ev
	}
	if a.Report != nil {
		r := *a.Report
		r.Recommendations = slices.Clone(a.Report.Recommendations)
		cp.Report = &r
	}
	cp.Witnesses = slices.Clone(a.Witnesses)
	cp.Documents = slices.Clone(a.Documents)
	cp.FollowUps = slices.Clone(a.FollowUps)
	cp.ResolvedAt = cloneTime(a.ResolvedAt)
	cp.ArchivedAt = cloneTime(a.ArchivedAt)
	return &cp
}

func (d Distribution) clone() Distribution {
	var out Distribution
	if d.Broadcast != nil {
		b := *d.Broadcast
		b.Stations = slices.Clone(d.Broadcast.Stations)
		b.Agents = slices.Clone(d.Broadcast.Agents)
		out.Broadcast = &b
	}
	if d.Assignments != nil {
		out.Assignments = make(map[StationID]*Assignment, len(d.Assignments))
		for k, v := range d.Assignments {
			out.Assignments[k] = v.clone()
		}
	}
	out.Internal = d.Internal.clone()
	return out
}

func (a *Assignment) clone() *Assignment {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Agents = slices.Clone(a.Agents)
	return &cp
}

// compactStrings trims entries and drops empties and exact duplicates.
func compactStrings(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}
