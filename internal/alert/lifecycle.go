package alert

import (
	"strings"
	"time"
)

// InterventionUpdate carries a stage move and optional field updates.
// Nil fields are left as they are.
type InterventionUpdate struct {
	Stage     Stage
	Team      []TeamMember
	Resources []string
	ArrivedAt *time.Time
	EndedAt   *time.Time
}

// Resolution selects how an open alert is closed out.
type Resolution struct {
	ClassifyWithoutFollowUp bool
	Reason                  string
}

// EnsureMutable rejects every mutation on an archived alert. It runs before
// any other check.
func (a *Alert) EnsureMutable() error {
	if a.Status == StatusArchived {
		return newError(KindAlertClosed, "status", "alert %s is archived", a.ID)
	}
	return nil
}

func (a *Alert) touch(at time.Time) {
	a.UpdatedAt = at
}

// DeployIntervention starts the field response to an open alert.
func (a *Alert) DeployIntervention(team []TeamMember, resources []string, departure time.Time, by Actor, at time.Time) error {
	if err := a.EnsureMutable(); err != nil {
		return err
	}
	if a.Status != StatusOpen {
		return newError(KindInvalidTransition, "status", "cannot deploy an intervention on a %s alert", a.Status)
	}
	if a.Intervention != nil {
		return newError(KindPrecondition, "intervention", "an intervention is already deployed")
	}
	team, err := normalizeTeam(team)
	if err != nil {
		return err
	}
	if departure.IsZero() {
		departure = at
	}

	a.Intervention = &Intervention{
		Stage:      StageDeployed,
		Team:       team,
		Resources:  compactStrings(resources),
		DepartedAt: departure,
		DeployedBy: by,
		DeployedAt: at,
	}
	a.touch(at)
	return nil
}

// UpdateIntervention moves the intervention forward and updates its fields.
// Staying on the current stage is allowed; moving back is not.
func (a *Alert) UpdateIntervention(u InterventionUpdate, by Actor, at time.Time) error {
	if err := a.EnsureMutable(); err != nil {
		return err
	}
	iv := a.Intervention
	if iv == nil {
		return newError(KindPrecondition, "intervention", "no intervention has been deployed")
	}
	if u.Stage.Rank() == 0 {
		return Invalid("stage", "unknown stage %q", u.Stage)
	}
	if u.Stage.Rank() < iv.Stage.Rank() {
		return newError(KindInvalidTransition, "stage", "cannot move intervention from %s back to %s", iv.Stage, u.Stage)
	}

	// validate everything before touching the record
	var team []TeamMember
	if u.Team != nil {
		t, err := normalizeTeam(u.Team)
		if err != nil {
			return err
		}
		team = t
	}
	if u.ArrivedAt != nil && u.ArrivedAt.Before(iv.DepartedAt) {
		return Invalid("arrived_at", "arrival precedes departure")
	}

	if team != nil {
		iv.Team = team
	}
	if u.Resources != nil {
		iv.Resources = compactStrings(u.Resources)
	}
	if u.ArrivedAt != nil {
		iv.ArrivedAt = cloneTime(u.ArrivedAt)
	}
	if u.EndedAt != nil {
		iv.EndedAt = cloneTime(u.EndedAt)
	}
	if u.Stage.Rank() >= StageOnScene.Rank() && iv.ArrivedAt == nil {
		iv.ArrivedAt = cloneTime(&at)
	}
	if u.Stage == StageCompleted && iv.EndedAt == nil {
		iv.EndedAt = cloneTime(&at)
	}
	iv.Stage = u.Stage
	iv.UpdatedBy = &by
	iv.UpdatedAt = cloneTime(&at)
	a.touch(at)
	return nil
}

// AddEvaluation records the assessment. It needs an intervention first.
func (a *Alert) AddEvaluation(e Evaluation, by Actor, at time.Time) error {
	if err := a.EnsureMutable(); err != nil {
		return err
	}
	if a.Intervention == nil {
		return newError(KindPrecondition, "intervention", "an intervention is required before evaluation")
	}
	if a.Evaluation != nil {
		return newError(KindPrecondition, "evaluation", "the alert is already evaluated")
	}
	if strings.TrimSpace(e.Summary) == "" {
		return Invalid("summary", "evaluation summary is required")
	}
	if e.ThreatLevel != "" && !e.ThreatLevel.Valid() {
		return Invalid("threat_level", "unknown threat level %q", e.ThreatLevel)
	}
	e.Findings = compactStrings(e.Findings)
	e.By = by
	e.At = at
	a.Evaluation = &e
	a.touch(at)
	return nil
}

// AddReport records the closing report. It needs an evaluation first.
func (a *Alert) AddReport(r Report, by Actor, at time.Time) error {
	if err := a.EnsureMutable(); err != nil {
		return err
	}
	if a.Evaluation == nil {
		return newError(KindPrecondition, "evaluation", "an evaluation is required before the report")
	}
	if a.Report != nil {
		return newError(KindPrecondition, "report", "a report already exists")
	}
	if strings.TrimSpace(r.Summary) == "" {
		return Invalid("summary", "report summary is required")
	}
	r.Recommendations = compactStrings(r.Recommendations)
	r.Synthesized = false
	r.ClosureReason = ""
	r.By = by
	r.At = at
	a.Report = &r
	a.touch(at)
	return nil
}

// Resolve closes out an open alert. Classifying without follow-up archives
// directly and never passes through resolved.
func (a *Alert) Resolve(res Resolution, by Actor, at time.Time) error {
	if err := a.EnsureMutable(); err != nil {
		return err
	}
	if a.Status != StatusOpen {
		return newError(KindInvalidTransition, "status", "cannot resolve a %s alert", a.Status)
	}

	if res.ClassifyWithoutFollowUp {
		reason := strings.TrimSpace(res.Reason)
		if reason == "" {
			return Invalid("reason", "a reason is required to classify without follow-up")
		}
		if a.Report == nil {
			a.Report = &Report{
				Summary:       reason,
				Outcome:       "classified without follow-up",
				ClosureReason: reason,
				Synthesized:   true,
				By:            by,
				At:            at,
			}
		} else {
			a.Report.ClosureReason = reason
		}
		a.ClassifiedWithoutFollowUp = true
		a.Status = StatusArchived
		a.ArchivedAt = cloneTime(&at)
		a.touch(at)
		return nil
	}

	if a.Report == nil {
		return newError(KindReportRequired, "report", "a report is required to resolve the alert")
	}
	a.Status = StatusResolved
	a.ResolvedAt = cloneTime(&at)
	a.touch(at)
	return nil
}

// Close archives a resolved alert.
func (a *Alert) Close(by Actor, at time.Time) error {
	if err := a.EnsureMutable(); err != nil {
		return err
	}
	if a.Status != StatusResolved {
		return newError(KindInvalidTransition, "status", "only resolved alerts can be closed, alert is %s", a.Status)
	}
	a.Status = StatusArchived
	a.ArchivedAt = cloneTime(&at)
	a.touch(at)
	return nil
}

// AddWitness appends a witness statement.
func (a *Alert) AddWitness(w Witness, by Actor, at time.Time) error {
	if err := a.EnsureMutable(); err != nil {
		return err
	}
	if w.ID == "" {
		return Invalid("id", "witness id is required")
	}
	if strings.TrimSpace(w.Name) == "" {
		return Invalid("name", "witness name is required")
	}
	w.By = by
	w.At = at
	a.Witnesses = append(a.Witnesses, w)
	a.touch(at)
	return nil
}

// AddDocument appends a document reference.
func (a *Alert) AddDocument(d Document, by Actor, at time.Time) error {
	if err := a.EnsureMutable(); err != nil {
		return err
	}
	if d.ID == "" {
		return Invalid("id", "document id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return Invalid("name", "document name is required")
	}
	if strings.TrimSpace(d.URL) == "" {
		return Invalid("url", "document url is required")
	}
	d.By = by
	d.At = at
	a.Documents = append(a.Documents, d)
	a.touch(at)
	return nil
}

// AddFollowUp appends a timeline event.
func (a *Alert) AddFollowUp(e TimelineEvent, by Actor, at time.Time) error {
	if err := a.EnsureMutable(); err != nil {
		return err
	}
	if e.ID == "" {
		return Invalid("id", "follow-up id is required")
	}
	if strings.TrimSpace(e.Note) == "" {
		return Invalid("note", "follow-up note is required")
	}
	if e.Kind == "" {
		e.Kind = "note"
	}
	e.By = by
	e.At = at
	a.FollowUps = append(a.FollowUps, e)
	a.touch(at)
	return nil
}

func normalizeTeam(team []TeamMember) ([]TeamMember, error) {
	var out []TeamMember
	seen := make(map[AgentID]bool, len(team))
	for _, m := range team {
		m.Agent = AgentID(strings.TrimSpace(string(m.Agent)))
		if m.Agent == "" || seen[m.Agent] {
			continue
		}
		seen[m.Agent] = true
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, newError(KindTeamEmpty, "team", "at least one agent is required")
	}
	return out, nil
}
