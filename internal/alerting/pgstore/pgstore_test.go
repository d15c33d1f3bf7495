package pgstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/watchpost/internal/alert"
	"github.com/linnemanlabs/watchpost/internal/alerting/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("WATCHPOST_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("WATCHPOST_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func newAlert(t *testing.T) *alert.Alert {
	t.Helper()
	now := time.Now().Truncate(time.Microsecond).UTC()
	a, err := alert.New(ulid.Make().String(), alert.Draft{
		Category:    alert.CategoryStolenVehicle,
		Severity:    alert.SeverityHigh,
		Title:       "Stolen van",
		Description: "White van taken from the market car park",
		Payload:     &alert.VehiclePayload{Plate: "AB-123-CD", Make: "Renault"},
	}, alert.Actor{Station: "ABC", Agent: "agent-1"}, now)
	if err != nil {
		t.Fatalf("alert.New: %v", err)
	}
	return a
}

func TestCreateAndLoad(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a := newAlert(t)

	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	assertEqual(t, "Version", a.Version, int64(1))

	got, ok, err := s.Load(ctx, a.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load returned ok=false, want true")
	}
	assertEqual(t, "Reference", got.Reference, a.Reference)
	assertEqual(t, "Status", got.Status, alert.StatusOpen)
	assertEqual(t, "Version", got.Version, int64(1))
	if !got.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, a.CreatedAt)
	}
	v, ok := got.Vehicle()
	if !ok {
		t.Fatal("vehicle payload lost")
	}
	assertEqual(t, "Plate", v.Plate, "AB-123-CD")

	if err := s.Create(ctx, a); err == nil {
		t.Error("expected duplicate create to fail")
	}
}

func TestLoadMissing(t *testing.T) {
	s := openStore(t)
	_, ok, err := s.Load(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("Load returned ok=true for missing alert")
	}
}

func TestSaveVersionCheck(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a := newAlert(t)
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	by := alert.Actor{Station: "ABC", Agent: "agent-1"}
	at := a.CreatedAt.Add(time.Minute)
	if err := a.DeployIntervention([]alert.TeamMember{{Agent: "agent-2"}}, nil, at, by, at); err != nil {
		t.Fatalf("DeployIntervention: %v", err)
	}
	if err := s.Save(ctx, a, 1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	assertEqual(t, "Version", a.Version, int64(2))

	stale := a.Clone()
	err := s.Save(ctx, stale, 1)
	if !errors.Is(err, alert.ErrVersionConflict) {
		t.Fatalf("stale Save = %v, want version conflict", err)
	}

	got, _, err := s.Load(ctx, a.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertEqual(t, "Version", got.Version, int64(2))
	if got.Intervention == nil || len(got.Intervention.Team) != 1 {
		t.Errorf("Intervention = %+v, want one team member", got.Intervention)
	}

	ghost := newAlert(t)
	if err := s.Save(ctx, ghost, 1); !errors.Is(err, alert.ErrNotFound) {
		t.Errorf("Save unknown = %v, want not found", err)
	}
}

func assertEqual[T comparable](t *testing.T, field string, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %v, want %v", field, got, want)
	}
}
