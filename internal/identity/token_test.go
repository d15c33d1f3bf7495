package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestManager_RoundTrip(t *testing.T) {
	t.Parallel()

	m := NewManager("test-signing-key", time.Hour)
	tok, err := m.Issue(Identity{Station: "ABC", Agent: "agent-1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	id, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Station != "ABC" || id.Agent != "agent-1" {
		t.Errorf("identity = %+v", id)
	}
	if id.TokenID == "" {
		t.Error("TokenID empty")
	}
	if a := id.Actor(); a.Station != "ABC" || a.Agent != "agent-1" {
		t.Errorf("Actor = %+v", a)
	}
}

func TestManager_Rejects(t *testing.T) {
	t.Parallel()

	m := NewManager("test-signing-key", time.Hour)
	good, err := m.Issue(Identity{Station: "ABC", Agent: "agent-1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	expired := NewManager("test-signing-key", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.Issue(Identity{Station: "ABC", Agent: "agent-1"})

	other, _ := NewManager("other-key", time.Hour).Issue(Identity{Station: "ABC", Agent: "agent-1"})

	noStation, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "agent-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-signing-key"))

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		StationID:        "ABC",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "agent-1"},
	}).SignedString([]byte("test-signing-key"))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"tampered", good + "x"},
		{"expired", old},
		{"wrong key", other},
		{"missing station", noStation},
		{"missing expiry", noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := m.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestManager_IssueRequiresIdentity(t *testing.T) {
	t.Parallel()

	if _, err := NewManager("k", time.Hour).Issue(Identity{Station: "ABC"}); err == nil {
		t.Error("expected error without agent")
	}
}

func TestContext(t *testing.T) {
	t.Parallel()

	if _, ok := FromContext(context.Background()); ok {
		t.Error("empty context carries an identity")
	}
	ctx := WithIdentity(context.Background(), Identity{Station: "XYZ", Agent: "agent-9"})
	id, ok := FromContext(ctx)
	if !ok || id.Station != "XYZ" {
		t.Errorf("FromContext = %+v, %v", id, ok)
	}
	if v := id.Viewer(); v.Agent != "agent-9" {
		t.Errorf("Viewer = %+v", v)
	}
}
