package alert

import (
	"slices"
	"time"
)

// StationID identifies a police station.
type StationID string

// AgentID identifies an agent belonging to a station.
type AgentID string

// Actor is whoever performs a mutation, used for audit stamps.
type Actor struct {
	Station StationID `json:"station_id"`
	Agent   AgentID   `json:"agent_id"`
}

// Category is the alert classification.
type Category string

const (
	CategorySecurityEmergency Category = "security-emergency"
	CategoryAccident          Category = "accident"
	CategoryAssault           Category = "assault"
	CategoryFire              Category = "fire"
	CategoryStolenVehicle     Category = "stolen-vehicle"
	CategoryWantedSuspect     Category = "wanted-suspect"
	CategoryGeneralAlert      Category = "general-alert"
	CategoryAmber             Category = "amber"
	CategorySystemMaintenance Category = "system-maintenance"
	CategoryOther             Category = "other"
)

// Categories lists every known category.
var Categories = []Category{
	CategorySecurityEmergency,
	CategoryAccident,
	CategoryAssault,
	CategoryFire,
	CategoryStolenVehicle,
	CategoryWantedSuspect,
	CategoryGeneralAlert,
	CategoryAmber,
	CategorySystemMaintenance,
	CategoryOther,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool { return slices.Contains(Categories, c) }

// Severity is the urgency level of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Status tracks where an alert is in its lifecycle.
type Status string

const (
	// StatusOpen means raised and still being handled
	StatusOpen Status = "open"

	// StatusResolved means handled with a report, awaiting closure
	StatusResolved Status = "resolved"

	// StatusArchived is terminal
	StatusArchived Status = "archived"
)

// Alert is a security alert raised by a station.
type Alert struct {
	ID          string   `json:"id"`
	Reference   string   `json:"reference"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Context     string   `json:"context,omitempty"`
	Risks       []string `json:"risks,omitempty"`
	Payload     Payload  `json:"-"`

	Status       Status    `json:"status"`
	OwnerStation StationID `json:"owner_station_id"`
	CreatedBy    AgentID   `json:"created_by"`

	Distribution Distribution    `json:"distribution"`
	Intervention *Intervention   `json:"intervention,omitempty"`
	Evaluation   *Evaluation     `json:"evaluation,omitempty"`
	Report       *Report         `json:"report,omitempty"`
	Witnesses    []Witness       `json:"witnesses,omitempty"`
	Documents    []Document      `json:"documents,omitempty"`
	FollowUps    []TimelineEvent `json:"follow_ups,omitempty"`

	ClassifiedWithoutFollowUp bool `json:"classified_without_follow_up,omitempty"`

	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// Narrative returns the free text mined for record references.
func (a *Alert) Narrative() string {
	switch {
	case a.Description != "" && a.Context != "":
		return a.Description + "\n" + a.Context
	case a.Context != "":
		return a.Context
	}
	return a.Description
}

// Stage is the progress of an intervention. Stages are strictly ordered.
type Stage string

const (
	StageDeployed  Stage = "deployed"
	StageEnRoute   Stage = "en-route"
	StageOnScene   Stage = "on-scene"
	StageCompleted Stage = "completed"
)

// Rank returns the position of s in the stage order, or 0 if s is unknown.
func (s Stage) Rank() int {
	switch s {
	case StageDeployed:
		return 1
	case StageEnRoute:
		return 2
	case StageOnScene:
		return 3
	case StageCompleted:
		return 4
	}
	return 0
}

// TeamMember is one agent deployed on an intervention.
type TeamMember struct {
	Agent AgentID `json:"agent_id"`
	Role  string  `json:"role,omitempty"`
}

// Intervention records the field response to an alert.
type Intervention struct {
	Stage      Stage        `json:"stage"`
	Team       []TeamMember `json:"team"`
	Resources  []string     `json:"resources,omitempty"`
	DepartedAt time.Time    `json:"departed_at"`
	ArrivedAt  *time.Time   `json:"arrived_at,omitempty"`
	EndedAt    *time.Time   `json:"ended_at,omitempty"`
	DeployedBy Actor        `json:"deployed_by"`
	DeployedAt time.Time    `json:"deployed_at"`
	UpdatedBy  *Actor       `json:"updated_by,omitempty"`
	UpdatedAt  *time.Time   `json:"updated_at,omitempty"`
}

// ResponseDuration is the time between departure and arrival on scene.
func (i *Intervention) ResponseDuration() (time.Duration, bool) {
	if i.ArrivedAt == nil || i.DepartedAt.IsZero() {
		return 0, false
	}
	return i.ArrivedAt.Sub(i.DepartedAt), true
}

// Evaluation is the assessment made once an intervention took place.
type Evaluation struct {
	Summary     string    `json:"summary"`
	ThreatLevel Severity  `json:"threat_level,omitempty"`
	Findings    []string  `json:"findings,omitempty"`
	NeedsFollow bool      `json:"needs_follow_up,omitempty"`
	By          Actor     `json:"by"`
	At          time.Time `json:"at"`
}

// Report is the closing account of an alert.
type Report struct {
	Summary         string    `json:"summary"`
	Outcome         string    `json:"outcome,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	ClosureReason   string    `json:"closure_reason,omitempty"`
	Synthesized     bool      `json:"synthesized,omitempty"`
	By              Actor     `json:"by"`
	At              time.Time `json:"at"`
}

// Witness is a person heard in relation to the alert.
type Witness struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact,omitempty"`
	Statement string    `json:"statement,omitempty"`
	By        Actor     `json:"by"`
	At        time.Time `json:"at"`
}

// Document is a file attached to the alert. Content lives elsewhere.
type Document struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type,omitempty"`
	URL         string    `json:"url"`
	By          Actor     `json:"by"`
	At          time.Time `json:"at"`
}

// TimelineEvent is a follow-up note on the alert timeline.
type TimelineEvent struct {
	ID   string    `json:"id"`
	Kind string    `json:"kind"`
	Note string    `json:"note"`
	By   Actor     `json:"by"`
	At   time.Time `json:"at"`
}

// Distribution is everything about who else received the alert. Only the
// distribution engine mutates it.
type Distribution struct {
	Broadcast   *Broadcast                `json:"broadcast,omitempty"`
	Assignments map[StationID]*Assignment `json:"assignments,omitempty"`
	Internal    *Assignment               `json:"internal,omitempty"`
}

// Broadcast is the one-time outward distribution from the owning station.
type Broadcast struct {
	General  bool        `json:"general"`
	Stations []StationID `json:"station_ids,omitempty"`
	Agents   []AgentID   `json:"agent_ids,omitempty"`
	By       Actor       `json:"by"`
	At       time.Time   `json:"at"`
}

// Targets reports whether the broadcast reached station s.
func (b *Broadcast) Targets(s StationID) bool {
	return b.General || slices.Contains(b.Stations, s)
}

// AssignMode is how a station fanned an alert out to its agents.
type AssignMode string

const (
	// AssignGeneral means every agent of the station
	AssignGeneral AssignMode = "general"

	// AssignSelective means only the listed agents
	AssignSelective AssignMode = "selective"
)

// Assignment is a station's current assignment posture for an alert.
type Assignment struct {
	Station     StationID  `json:"station_id"`
	Mode        AssignMode `json:"mode"`
	Agents      []AgentID  `json:"agent_ids,omitempty"`
	Responsible AgentID    `json:"responsible_agent_id,omitempty"`
	By          Actor      `json:"by"`
	At          time.Time  `json:"at"`
}

func (a *Assignment) equivalent(b *Assignment) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Station == b.Station &&
		a.Mode == b.Mode &&
		a.Responsible == b.Responsible &&
		slices.Equal(a.Agents, b.Agents)
}
