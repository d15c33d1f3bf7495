package alertapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/watchpost/internal/alert"
	"github.com/linnemanlabs/watchpost/internal/alerting"
	"github.com/linnemanlabs/watchpost/internal/identity"
)

type createRequest struct {
	Category    alert.Category  `json:"category"`
	Severity    alert.Severity  `json:"severity"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Context     string          `json:"context"`
	Risks       []string        `json:"risks"`
	Payload     json.RawMessage `json:"payload"`
}

type deployRequest struct {
	Team       []alert.TeamMember `json:"team"`
	Resources  []string           `json:"resources"`
	DepartedAt time.Time          `json:"departed_at"`
}

type interventionPatch struct {
	Stage     alert.Stage        `json:"stage"`
	Team      []alert.TeamMember `json:"team"`
	Resources []string           `json:"resources"`
	ArrivedAt *time.Time         `json:"arrived_at"`
	EndedAt   *time.Time         `json:"ended_at"`
}

type evaluationRequest struct {
	Summary     string         `json:"summary"`
	ThreatLevel alert.Severity `json:"threat_level"`
	Findings    []string       `json:"findings"`
	NeedsFollow bool           `json:"needs_follow_up"`
}

type reportRequest struct {
	Summary         string   `json:"summary"`
	Outcome         string   `json:"outcome"`
	Recommendations []string `json:"recommendations"`
	ClosureReason   string   `json:"closure_reason"`
}

type resolveRequest struct {
	ClassifyWithoutFollowUp bool   `json:"classify_without_follow_up"`
	Reason                  string `json:"reason"`
}

type broadcastRequest struct {
	General  bool              `json:"general"`
	Stations []alert.StationID `json:"station_ids"`
	Agents   []alert.AgentID   `json:"agent_ids"`
}

type assignRequest struct {
	General bool            `json:"general"`
	Agents  []alert.AgentID `json:"agent_ids"`
}

type diffusionRequest struct {
	General     bool            `json:"general"`
	Agents      []alert.AgentID `json:"agent_ids"`
	Responsible alert.AgentID   `json:"responsible_agent_id"`
}

type witnessRequest struct {
	Name      string `json:"name"`
	Contact   string `json:"contact"`
	Statement string `json:"statement"`
}

type documentRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

type followUpRequest struct {
	Kind string `json:"kind"`
	Note string `json:"note"`
}

// caller returns the authenticated identity and the alert id from the path,
// tagging the request span with both.
func caller(r *http.Request) (identity.Identity, string) {
	who, _ := identity.FromContext(r.Context())
	id := chi.URLParam(r, "id")
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("watchpost.station.id", string(who.Station)),
		attribute.String("watchpost.agent.id", string(who.Agent)),
	)
	if id != "" {
		span.SetAttributes(attribute.String("watchpost.alert.id", id))
	}
	return who, id
}

// respond writes the view, or the error when the operation failed.
func (a *API) respond(w http.ResponseWriter, r *http.Request, status int, v *alerting.View, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	who, _ := caller(r)
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	payload, err := alert.DecodePayload(req.Category, req.Payload)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	v, err := a.svc.Create(r.Context(), who, alert.Draft{
		Category:    req.Category,
		Severity:    req.Severity,
		Title:       req.Title,
		Description: req.Description,
		Context:     req.Context,
		Risks:       req.Risks,
		Payload:     payload,
	})
	if err == nil {
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("watchpost.alert.id", v.Alert.ID))
		w.Header().Set("Location", "/api/v1/alerts/"+v.Alert.ID)
	}
	a.respond(w, r, http.StatusCreated, v, err)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	v, err := a.svc.View(r.Context(), who, id)
	a.respond(w, r, http.StatusOK, v, err)
}

func (a *API) handleReferences(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	res, err := a.svc.References(r.Context(), who, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleDeployIntervention(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	var req deployRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := a.svc.DeployIntervention(r.Context(), who, id, req.Team, req.Resources, req.DepartedAt)
	a.respond(w, r, http.StatusOK, v, err)
}

func (a *API) handleUpdateIntervention(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	var req interventionPatch
	if !decode(w, r, &req) {
		return
	}
	v, err := a.svc.UpdateIntervention(r.Context(), who, id, alert.InterventionUpdate{
		Stage:     req.Stage,
		Team:      req.Team,
		Resources: req.Resources,
		ArrivedAt: req.ArrivedAt,
		EndedAt:   req.EndedAt,
	})
	a.respond(w, r, http.StatusOK, v, err)
}

func (a *API) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	var req evaluationRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := a.svc.AddEvaluation(r.Context(), who, id, alert.Evaluation{
		Summary:     req.Summary,
		ThreatLevel: req.ThreatLevel,
		Findings:    req.Findings,
		NeedsFollow: req.NeedsFollow,
	})
	a.respond(w, r, http.StatusOK, v, err)
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	var req reportRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := a.svc.AddReport(r.Context(), who, id, alert.Report{
		Summary:         req.Summary,
		Outcome:         req.Outcome,
		Recommendations: req.Recommendations,
		ClosureReason:   req.ClosureReason,
	})
	a.respond(w, r, http.StatusOK, v, err)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := a.svc.Resolve(r.Context(), who, id, alert.Resolution{
		ClassifyWithoutFollowUp: req.ClassifyWithoutFollowUp,
		Reason:                  req.Reason,
	})
	a.respond(w, r, http.StatusOK, v, err)
}

func (a *API) handleClose(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	v, err := a.svc.Close(r.Context(), who, id)
	a.respond(w, r, http.StatusOK, v, err)
}

func (a *API) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	var req broadcastRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := a.svc.Broadcast(r.Context(), who, id, alert.BroadcastRequest{
		General:  req.General,
		Stations: req.Stations,
		Agents:   req.Agents,
	})
	a.respond(w, r, http.StatusOK, v, err)
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := a.svc.Assign(r.Context(), who, id, alert.AssignRequest{General: req.General, Agents: req.Agents})
	a.respond(w, r, http.StatusOK, v, err)
}

func (a *API) handleDiffusion(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	var req diffusionRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := a.svc.DiffuseInternally(r.Context(), who, id, alert.DiffusionRequest{
		General:     req.General,
		Agents:      req.Agents,
		Responsible: req.Responsible,
	})
	a.respond(w, r, http.StatusOK, v, err)
}

func (a *API) handleWitness(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	var req witnessRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := a.svc.AddWitness(r.Context(), who, id, alert.Witness{
		Name:      req.Name,
		Contact:   req.Contact,
		Statement: req.Statement,
	})
	a.respond(w, r, http.StatusCreated, v, err)
}

func (a *API) handleDocument(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	var req documentRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := a.svc.AddDocument(r.Context(), who, id, alert.Document{
		Name:        req.Name,
		ContentType: req.ContentType,
		URL:         req.URL,
	})
	a.respond(w, r, http.StatusCreated, v, err)
}

func (a *API) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	who, id := caller(r)
	var req followUpRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := a.svc.AddFollowUp(r.Context(), who, id, alert.TimelineEvent{Kind: req.Kind, Note: req.Note})
	a.respond(w, r, http.StatusCreated, v, err)
}
