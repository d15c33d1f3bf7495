package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/linnemanlabs/watchpost/internal/identity"
)

var whoami = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(string(id.Station) + "/" + string(id.Agent)))
})

func TestIdentity_ValidToken(t *testing.T) {
	t.Parallel()

	m := identity.NewManager("test-key", time.Hour)
	tok, err := m.Issue(identity.Identity{Station: "ABC", Agent: "agent-1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	h := Identity(m)(whoami)
	req := httptest.NewRequest(http.MethodGet, "/?station_id=XYZ", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("X-Station-ID", "XYZ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Body.String(); got != "ABC/agent-1" {
		t.Errorf("identity = %q, want ABC/agent-1 regardless of client-supplied station", got)
	}
}

func TestIdentity_MissingHeader(t *testing.T) {
	t.Parallel()

	h := Identity(identity.NewManager("k", time.Hour))(whoami)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}
}

func TestIdentity_Rejects(t *testing.T) {
	t.Parallel()

	m := identity.NewManager("correct-key", time.Hour)
	h := Identity(m)(whoami)

	forged, _ := identity.NewManager("wrong-key", time.Hour).Issue(identity.Identity{Station: "ABC", Agent: "a"})

	tests := []struct {
		name  string
		value string
	}{
		{"Basic auth", "Basic dXNlcjpwYXNz"},
		{"lowercase bearer", "bearer " + forged},
		{"no prefix", forged},
		{"forged", "Bearer " + forged},
		{"garbage", "Bearer nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("Authorization", tt.value)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}
