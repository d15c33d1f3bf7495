package alert

// Action is something a viewer may do next with an alert.
type Action string

const (
	ActionDeployIntervention Action = "deploy_intervention"
	ActionEvaluate           Action = "evaluate"
	ActionReport             Action = "report"
	ActionBroadcast          Action = "broadcast"
	ActionInternalDiffusion  Action = "internal_diffusion"
	ActionAssign             Action = "assign"
	ActionResolve            Action = "resolve"
	ActionClose              Action = "close"
)

// AvailableActions lists, in a stable order, the actions currently offered
// for a. Rules are independent of each other; an archived alert offers none.
// Broadcast, internal diffusion, resolve and close belong to the owning
// station and are never offered to anyone else.
func AvailableActions(a *Alert, c Capabilities) []Action {
	if a.Status == StatusArchived {
		return nil
	}
	var out []Action
	if a.Status == StatusOpen && a.Intervention == nil {
		out = append(out, ActionDeployIntervention)
	}
	if a.Intervention != nil && a.Evaluation == nil {
		out = append(out, ActionEvaluate)
	}
	if a.Evaluation != nil && a.Report == nil {
		out = append(out, ActionReport)
	}
	if c.IsOwner && a.Status == StatusOpen && a.Distribution.Broadcast == nil {
		out = append(out, ActionBroadcast)
	}
	if c.IsOwner {
		out = append(out, ActionInternalDiffusion)
	}
	if c.CanAssign {
		out = append(out, ActionAssign)
	}
	if c.IsOwner && a.Status == StatusOpen {
		out = append(out, ActionResolve)
	}
	if c.IsOwner && a.Status == StatusResolved {
		out = append(out, ActionClose)
	}
	return out
}
