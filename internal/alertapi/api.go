// Package alertapi exposes alert operations over HTTP. Every route requires
// an authenticated agent; the acting station always comes from the token.
package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/watchpost/internal/alert"
	"github.com/linnemanlabs/watchpost/internal/alerting"
	"github.com/linnemanlabs/watchpost/internal/authmw"
	"github.com/linnemanlabs/watchpost/internal/identity"
	"github.com/linnemanlabs/watchpost/internal/refs"
)

// AlertService defines the business operations alertapi needs.
type AlertService interface {
	Create(ctx context.Context, who identity.Identity, d alert.Draft) (*alerting.View, error)
	View(ctx context.Context, who identity.Identity, id string) (*alerting.View, error)
	References(ctx context.Context, who identity.Identity, id string) (*refs.Result, error)
	DeployIntervention(ctx context.Context, who identity.Identity, id string, team []alert.TeamMember, resources []string, departedAt time.Time) (*alerting.View, error)
	UpdateIntervention(ctx context.Context, who identity.Identity, id string, u alert.InterventionUpdate) (*alerting.View, error)
	AddEvaluation(ctx context.Context, who identity.Identity, id string, e alert.Evaluation) (*alerting.View, error)
	AddReport(ctx context.Context, who identity.Identity, id string, r alert.Report) (*alerting.View, error)
	Resolve(ctx context.Context, who identity.Identity, id string, res alert.Resolution) (*alerting.View, error)
	Close(ctx context.Context, who identity.Identity, id string) (*alerting.View, error)
	Broadcast(ctx context.Context, who identity.Identity, id string, req alert.BroadcastRequest) (*alerting.View, error)
	Assign(ctx context.Context, who identity.Identity, id string, req alert.AssignRequest) (*alerting.View, error)
	DiffuseInternally(ctx context.Context, who identity.Identity, id string, req alert.DiffusionRequest) (*alerting.View, error)
	AddWitness(ctx context.Context, who identity.Identity, id string, w alert.Witness) (*alerting.View, error)
	AddDocument(ctx context.Context, who identity.Identity, id string, d alert.Document) (*alerting.View, error)
	AddFollowUp(ctx context.Context, who identity.Identity, id string, e alert.TimelineEvent) (*alerting.View, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      AlertService
	verifier authmw.Verifier
}

// New creates a new API handler.
func New(logger log.Logger, svc AlertService, verifier authmw.Verifier) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("alert service is required"))
	}
	if verifier == nil {
		panic(xerrors.New("token verifier is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		verifier: verifier,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/alerts", func(r chi.Router) {
		r.Use(authmw.Identity(a.verifier))

		r.Post("/", a.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.handleGet)
			r.Get("/references", a.handleReferences)

			r.Post("/intervention", a.handleDeployIntervention)
			r.Patch("/intervention", a.handleUpdateIntervention)
			r.Post("/evaluation", a.handleEvaluation)
			r.Post("/report", a.handleReport)
			r.Post("/resolve", a.handleResolve)
			r.Post("/close", a.handleClose)

			r.Post("/broadcast", a.handleBroadcast)
			r.Put("/assignment", a.handleAssign)
			r.Put("/diffusion", a.handleDiffusion)

			r.Post("/witnesses", a.handleWitness)
			r.Post("/documents", a.handleDocument)
			r.Post("/follow-ups", a.handleFollowUp)
		})
	})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

func statusFor(k alert.Kind) int {
	switch k {
	case alert.KindInvalidTransition, alert.KindPrecondition, alert.KindAlertClosed,
		alert.KindVersionConflict, alert.KindReportRequired:
		return http.StatusConflict
	case alert.KindEmptyDistribution, alert.KindTeamEmpty, alert.KindValidation:
		return http.StatusUnprocessableEntity
	case alert.KindForbidden:
		return http.StatusForbidden
	case alert.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeError renders business errors with their kind and field, and hides
// everything else behind a 500.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *alert.Error
	if errors.As(err, &e) {
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("watchpost.error.kind", string(e.Kind)))
		writeJSON(w, statusFor(e.Kind), errorBody{Error: string(e.Kind), Field: e.Field, Message: e.Message})
		return
	}
	log.FromContext(r.Context()).Error(r.Context(), err, "alert request failed")
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body, rejecting unknown fields. An empty body decodes
// to the zero value.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_payload", Message: err.Error()})
		return false
	}
	return true
}
