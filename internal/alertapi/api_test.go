package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/watchpost/internal/alert"
	"github.com/linnemanlabs/watchpost/internal/alerting"
	"github.com/linnemanlabs/watchpost/internal/alerting/memstore"
	"github.com/linnemanlabs/watchpost/internal/identity"
	"github.com/linnemanlabs/watchpost/internal/records/memlookup"
	"github.com/linnemanlabs/watchpost/internal/refs"
)

// tokenVerifier maps fixed tokens to identities.
type tokenVerifier map[string]identity.Identity

func (v tokenVerifier) Verify(token string) (identity.Identity, error) {
	id, ok := v[token]
	if !ok {
		return identity.Identity{}, errors.New("unknown token")
	}
	return id, nil
}

var testTokens = tokenVerifier{
	"owner":    {Station: "ABC", Agent: "agent-1"},
	"partner":  {Station: "XYZ", Agent: "agent-9"},
	"stranger": {Station: "QRS", Agent: "agent-5"},
}

func newTestService(t *testing.T) *alerting.Service {
	t.Helper()
	lookup := memlookup.New(refs.Record{Code: "ABC-OT-2026-4", Kind: refs.KindFoundItem, Title: "Black backpack"})
	resolver := refs.NewResolver(lookup, time.Second, 2, refs.NopSink{}, refs.Hooks{})
	svc := alerting.NewService(memstore.New(), nil, nil, resolver, log.Nop(), alerting.Hooks{})
	t.Cleanup(func() { _ = svc.Wait(context.Background()) })
	return svc
}

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	New(nil, newTestService(t), testTokens).RegisterRoutes(r)
	return r
}

// do sends a request as the agent holding token and decodes a JSON response
// into out when out is non-nil.
func do(t *testing.T, h http.Handler, token, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec
}

type viewBody struct {
	Alert struct {
		ID           string          `json:"id"`
		Reference    string          `json:"reference"`
		Status       alert.Status    `json:"status"`
		OwnerStation alert.StationID `json:"owner_station_id"`
		Version      int64           `json:"version"`
		Payload      map[string]any  `json:"payload"`
		Distribution struct {
			Broadcast *struct {
				General  bool              `json:"general"`
				Stations []alert.StationID `json:"station_ids"`
			} `json:"broadcast"`
			Assignments map[alert.StationID]json.RawMessage `json:"assignments"`
		} `json:"distribution"`
	} `json:"alert"`
	Capabilities alert.Capabilities `json:"capabilities"`
	Actions      []alert.Action     `json:"actions"`
}

func createAlert(t *testing.T, h http.Handler) viewBody {
	t.Helper()
	var v viewBody
	rec := do(t, h, "owner", http.MethodPost, "/api/v1/alerts", `{
		"category": "general-alert",
		"severity": "high",
		"title": "Suspicious parcel",
		"description": "Found item ABC-OT-2026-4 was handed in near the parcel."
	}`, &v)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error != kind {
		t.Errorf("error = %q, want %q", body.Error, kind)
	}
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, newTestService(t), testTokens)
	if api.logger == nil {
		t.Fatal("New(nil, ...) left logger nil; expected Nop logger")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil service did not panic")
		}
	}()
	New(log.Nop(), nil, testTokens)
}

func TestNew_NilVerifier_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil verifier did not panic")
		}
	}()
	New(log.Nop(), newTestService(t), nil)
}

//  Authentication

func TestRoutes_RequireToken(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"unknown", "forged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, tt.token, http.MethodGet, "/api/v1/alerts/anything", "", nil)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

//  Create / read

func TestCreate(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	v := createAlert(t, r)

	if v.Alert.OwnerStation != "ABC" {
		t.Errorf("owner = %q, want ABC from the token", v.Alert.OwnerStation)
	}
	if v.Alert.Status != alert.StatusOpen || v.Alert.Version != 1 {
		t.Errorf("status = %q version = %d", v.Alert.Status, v.Alert.Version)
	}
	if !v.Capabilities.IsOwner || !v.Capabilities.CanRead {
		t.Errorf("capabilities = %+v", v.Capabilities)
	}
	if !strings.HasPrefix(v.Alert.Reference, "ABC-AL-") {
		t.Errorf("reference = %q", v.Alert.Reference)
	}
}

func TestCreate_SetsLocation(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	rec := do(t, r, "owner", http.MethodPost, "/api/v1/alerts",
		`{"category":"stolen-vehicle","severity":"critical","title":"White van","payload":{"plate":"AB-123-CD"}}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "/api/v1/alerts/") {
		t.Errorf("Location = %q", loc)
	}
}

func TestCreate_Rejects(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"malformed json", `{"category":`, http.StatusBadRequest, "invalid_payload"},
		{"unknown field", `{"category":"fire","severity":"low","title":"x","owner_station_id":"XYZ"}`, http.StatusBadRequest, "invalid_payload"},
		{"unknown category", `{"category":"parking","severity":"low","title":"x"}`, http.StatusUnprocessableEntity, "validation_failed"},
		{"missing title", `{"category":"fire","severity":"low","title":"  "}`, http.StatusUnprocessableEntity, "validation_failed"},
		{"payload mismatch", `{"category":"fire","severity":"low","title":"x","payload":{"nope":1}}`, http.StatusUnprocessableEntity, "validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, "owner", http.MethodPost, "/api/v1/alerts", tt.body, nil)
			assertError(t, rec, tt.status, tt.kind)
		})
	}
}

func TestGet_Access(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	v := createAlert(t, r)
	path := "/api/v1/alerts/" + v.Alert.ID

	if rec := do(t, r, "owner", http.MethodGet, path, "", nil); rec.Code != http.StatusOK {
		t.Errorf("owner status = %d", rec.Code)
	}
	assertError(t, do(t, r, "partner", http.MethodGet, path, "", nil), http.StatusForbidden, "forbidden")
	assertError(t, do(t, r, "owner", http.MethodGet, "/api/v1/alerts/missing", "", nil), http.StatusNotFound, "not_found")
}

//  Distribution

func TestBroadcastAndAssign(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	v := createAlert(t, r)
	base := "/api/v1/alerts/" + v.Alert.ID

	assertError(t, do(t, r, "owner", http.MethodPost, base+"/broadcast", `{"general":false}`, nil),
		http.StatusUnprocessableEntity, "empty_distribution")

	var bv viewBody
	if rec := do(t, r, "owner", http.MethodPost, base+"/broadcast", `{"station_ids":["XYZ"]}`, &bv); rec.Code != http.StatusOK {
		t.Fatalf("broadcast status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if bv.Alert.Distribution.Broadcast == nil || len(bv.Alert.Distribution.Broadcast.Stations) != 1 {
		t.Errorf("owner view of broadcast = %+v", bv.Alert.Distribution.Broadcast)
	}

	var pv viewBody
	if rec := do(t, r, "partner", http.MethodGet, base, "", &pv); rec.Code != http.StatusOK {
		t.Fatalf("partner get status = %d", rec.Code)
	}
	if !pv.Capabilities.CanAssign || pv.Capabilities.IsOwner {
		t.Errorf("partner capabilities = %+v", pv.Capabilities)
	}
	if b := pv.Alert.Distribution.Broadcast; b == nil || len(b.Stations) != 0 {
		t.Errorf("partner should not see recipient list, got %+v", b)
	}

	assertError(t, do(t, r, "partner", http.MethodPost, base+"/broadcast", `{"general":true}`, nil),
		http.StatusForbidden, "forbidden")
	assertError(t, do(t, r, "stranger", http.MethodPut, base+"/assignment", `{"general":true}`, nil),
		http.StatusForbidden, "forbidden")

	var av viewBody
	if rec := do(t, r, "partner", http.MethodPut, base+"/assignment", `{"agent_ids":["agent-9"]}`, &av); rec.Code != http.StatusOK {
		t.Fatalf("assign status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if _, ok := av.Alert.Distribution.Assignments["XYZ"]; !ok || len(av.Alert.Distribution.Assignments) != 1 {
		t.Errorf("partner assignments = %v", av.Alert.Distribution.Assignments)
	}
}

func TestDiffusion(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	v := createAlert(t, r)

	rec := do(t, r, "owner", http.MethodPut, "/api/v1/alerts/"+v.Alert.ID+"/diffusion",
		`{"agent_ids":["agent-2","agent-3"],"responsible_agent_id":"agent-2"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

//  Lifecycle

func TestLifecycle(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	v := createAlert(t, r)
	base := "/api/v1/alerts/" + v.Alert.ID

	assertError(t, do(t, r, "owner", http.MethodPost, base+"/intervention", `{"team":[]}`, nil),
		http.StatusUnprocessableEntity, "team_empty")

	steps := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodPost, "/intervention", `{"team":[{"agent_id":"agent-1","role":"lead"}],"resources":["car-12"]}`, http.StatusOK},
		{http.MethodPatch, "/intervention", `{"stage":"on-scene"}`, http.StatusOK},
		{http.MethodPost, "/evaluation", `{"summary":"parcel is empty","threat_level":"low"}`, http.StatusOK},
		{http.MethodPost, "/witnesses", `{"name":"J. Doe","statement":"saw it dropped"}`, http.StatusCreated},
		{http.MethodPost, "/documents", `{"name":"photo.jpg","content_type":"image/jpeg","url":"https://files.example/photo.jpg"}`, http.StatusCreated},
		{http.MethodPost, "/follow-ups", `{"kind":"call","note":"called owner"}`, http.StatusCreated},
	}
	for _, s := range steps {
		if rec := do(t, r, "owner", s.method, base+s.path, s.body, nil); rec.Code != s.status {
			t.Fatalf("%s %s status = %d, want %d (body %s)", s.method, s.path, rec.Code, s.status, rec.Body.String())
		}
	}

	assertError(t, do(t, r, "owner", http.MethodPost, base+"/resolve", `{}`, nil), http.StatusConflict, "report_required")

	if rec := do(t, r, "owner", http.MethodPost, base+"/report", `{"summary":"false alarm","outcome":"no threat"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("report status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var rv viewBody
	if rec := do(t, r, "owner", http.MethodPost, base+"/resolve", "", &rv); rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d", rec.Code)
	}
	if rv.Alert.Status != alert.StatusResolved {
		t.Errorf("status = %q, want resolved", rv.Alert.Status)
	}

	var cv viewBody
	if rec := do(t, r, "owner", http.MethodPost, base+"/close", "", &cv); rec.Code != http.StatusOK {
		t.Fatalf("close status = %d", rec.Code)
	}
	if cv.Alert.Status != alert.StatusArchived || len(cv.Actions) != 0 {
		t.Errorf("status = %q actions = %v", cv.Alert.Status, cv.Actions)
	}

	assertError(t, do(t, r, "owner", http.MethodPost, base+"/evaluation", `{"summary":"late"}`, nil),
		http.StatusConflict, "alert_closed")
}

//  References

func TestReferences(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	v := createAlert(t, r)

	var res refs.Result
	rec := do(t, r, "owner", http.MethodGet, "/api/v1/alerts/"+v.Alert.ID+"/references", "", &res)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(res.Resolved) != 1 || res.Resolved[0].Record == nil || res.Resolved[0].Record.Title != "Black backpack" {
		t.Errorf("resolved = %+v", res.Resolved)
	}
	assertError(t, do(t, r, "stranger", http.MethodGet, "/api/v1/alerts/"+v.Alert.ID+"/references", "", nil),
		http.StatusForbidden, "forbidden")
}

//  Error mapping

// brokenService fails every read with an infrastructure error.
type brokenService struct {
	AlertService
}

func (brokenService) View(context.Context, identity.Identity, string) (*alerting.View, error) {
	return nil, errors.New("connection refused")
}

func TestInternalErrorIsHidden(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	New(nil, brokenService{}, testTokens).RegisterRoutes(r)

	rec := do(t, r, "owner", http.MethodGet, "/api/v1/alerts/x", "", nil)
	assertError(t, rec, http.StatusInternalServerError, "internal error")
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("internal error details leaked to client")
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind alert.Kind
		want int
	}{
		{alert.KindInvalidTransition, http.StatusConflict},
		{alert.KindPrecondition, http.StatusConflict},
		{alert.KindAlertClosed, http.StatusConflict},
		{alert.KindVersionConflict, http.StatusConflict},
		{alert.KindReportRequired, http.StatusConflict},
		{alert.KindEmptyDistribution, http.StatusUnprocessableEntity},
		{alert.KindTeamEmpty, http.StatusUnprocessableEntity},
		{alert.KindValidation, http.StatusUnprocessableEntity},
		{alert.KindForbidden, http.StatusForbidden},
		{alert.KindNotFound, http.StatusNotFound},
		{alert.Kind("weird"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			if got := statusFor(tt.kind); got != tt.want {
				t.Errorf("statusFor(%q) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}
