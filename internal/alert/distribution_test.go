package alert

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestBroadcast_Selective(t *testing.T) {
	t.Parallel()

	a := newOpenAlert(t)
	changed, err := a.Broadcast(BroadcastRequest{
		Stations: []StationID{"XYZ", " XYZ", "ABC", "DEF", ""},
		Agents:   []AgentID{"agent-7"},
	}, owner, t0)
	mustNil(t, err)
	if !changed {
		t.Fatal("first broadcast must report a change")
	}

	b := a.Distribution.Broadcast
	if want := []StationID{"XYZ", "DEF"}; !slices.Equal(b.Stations, want) {
		t.Errorf("Stations = %v, want %v (owner and duplicates dropped)", b.Stations, want)
	}
	if b.By != owner || !b.At.Equal(t0) {
		t.Errorf("audit = %+v @ %v, want %+v @ %v", b.By, b.At, owner, t0)
	}
}

func TestBroadcast_EmptySelective(t *testing.T) {
	t.Parallel()

	a := newOpenAlert(t)
	_, err := a.Broadcast(BroadcastRequest{Stations: []StationID{"ABC"}}, owner, t0)
	wantKind(t, err, ErrEmptyDistribution)
	if a.Distribution.Broadcast != nil {
		t.Error("failed broadcast must leave distribution untouched")
	}
}

func TestBroadcast_OnlyOwner(t *testing.T) {
	t.Parallel()

	a := newOpenAlert(t)
	_, err := a.Broadcast(BroadcastRequest{General: true}, partner, t0)
	wantKind(t, err, ErrForbidden)
}

func TestBroadcast_OneTime(t *testing.T) {
	t.Parallel()

	a := newOpenAlert(t)
	_, err := a.Broadcast(BroadcastRequest{General: true}, owner, t0)
	mustNil(t, err)

	later := t0.Add(time.Minute)
	changed, err := a.Broadcast(BroadcastRequest{General: true}, owner, later)
	mustNil(t, err)
	if changed {
		t.Error("repeating the same broadcast must be a no-op")
	}
	if !a.Distribution.Broadcast.At.Equal(t0) {
		t.Error("no-op broadcast overwrote the audit stamp")
	}

	_, err = a.Broadcast(BroadcastRequest{Stations: []StationID{"XYZ"}}, owner, later)
	wantKind(t, err, ErrPrecondition)
}

func TestAssign(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		broadcast BroadcastRequest
		recipient StationID
		req       AssignRequest
		want      *Error
	}{
		{"owner station", BroadcastRequest{General: true}, "ABC", AssignRequest{General: true}, ErrForbidden},
		{"not targeted", BroadcastRequest{Stations: []StationID{"DEF"}}, "XYZ", AssignRequest{General: true}, ErrForbidden},
		{"agent-only broadcast", BroadcastRequest{Agents: []AgentID{"agent-9"}}, "XYZ", AssignRequest{General: true}, ErrForbidden},
		{"empty selective", BroadcastRequest{General: true}, "XYZ", AssignRequest{}, ErrEmptyDistribution},
		{"missing recipient", BroadcastRequest{General: true}, "", AssignRequest{General: true}, ErrValidation},
		{"general broadcast", BroadcastRequest{General: true}, "XYZ", AssignRequest{Agents: []AgentID{"agent-9"}}, nil},
		{"selective broadcast", BroadcastRequest{Stations: []StationID{"XYZ"}}, "XYZ", AssignRequest{General: true}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newOpenAlert(t)
			_, err := a.Broadcast(tt.broadcast, owner, t0)
			mustNil(t, err)

			_, err = a.Assign(tt.recipient, tt.req, Actor{Station: tt.recipient, Agent: "agent-9"}, t0)
			if tt.want != nil {
				wantKind(t, err, tt.want)
				if len(a.Distribution.Assignments) != 0 {
					t.Error("rejected assignment was recorded")
				}
				return
			}
			mustNil(t, err)
			if a.Distribution.Assignments[tt.recipient] == nil {
				t.Fatal("assignment not recorded")
			}
		})
	}
}

func TestAssign_NoBroadcast(t *testing.T) {
	t.Parallel()

	a := newOpenAlert(t)
	_, err := a.Assign("XYZ", AssignRequest{General: true}, partner, t0)
	wantKind(t, err, ErrForbidden)

	_, err = a.Assign("ABC", AssignRequest{General: true}, owner, t0)
	wantKind(t, err, ErrForbidden)
	var berr *Error
	if !errors.As(err, &berr) || berr.Field != "recipient_station_id" {
		t.Errorf("owner assign err = %v, want field recipient_station_id", err)
	}
	if len(a.Distribution.Assignments) != 0 {
		t.Error("rejected assignment was recorded")
	}
}

func TestAssign_IdempotentAndOverwrite(t *testing.T) {
	t.Parallel()

	a := newOpenAlert(t)
	_, err := a.Broadcast(BroadcastRequest{General: true}, owner, t0)
	mustNil(t, err)

	req := AssignRequest{Agents: []AgentID{"agent-9", "agent-10"}}
	changed, err := a.Assign("XYZ", req, partner, t0)
	mustNil(t, err)
	if !changed {
		t.Fatal("first assignment must report a change")
	}

	later := t0.Add(time.Minute)
	changed, err = a.Assign("XYZ", req, partner, later)
	mustNil(t, err)
	if changed {
		t.Error("repeating an assignment must be a no-op")
	}
	if got := a.Distribution.Assignments["XYZ"].At; !got.Equal(t0) {
		t.Errorf("At = %v, want original %v", got, t0)
	}

	changed, err = a.Assign("XYZ", AssignRequest{General: true}, partner, later)
	mustNil(t, err)
	if !changed {
		t.Fatal("different assignment must report a change")
	}
	got := a.Distribution.Assignments["XYZ"]
	if got.Mode != AssignGeneral || len(got.Agents) != 0 {
		t.Errorf("assignment = %+v, want general replacing the selective record", got)
	}
}

func TestDiffuseInternally(t *testing.T) {
	t.Parallel()

	a := newOpenAlert(t)

	_, err := a.DiffuseInternally(DiffusionRequest{General: true}, partner, t0)
	wantKind(t, err, ErrForbidden)

	_, err = a.DiffuseInternally(DiffusionRequest{}, owner, t0)
	wantKind(t, err, ErrEmptyDistribution)

	changed, err := a.DiffuseInternally(DiffusionRequest{Responsible: " agent-3 "}, owner, t0)
	mustNil(t, err)
	if !changed {
		t.Fatal("expected change")
	}
	in := a.Distribution.Internal
	if in.Mode != AssignSelective || in.Responsible != "agent-3" {
		t.Errorf("internal = %+v, want selective with responsible agent-3", in)
	}
	if len(a.Distribution.Assignments) != 0 {
		t.Error("internal diffusion must not create a station assignment")
	}
	if a.Distribution.Broadcast != nil {
		t.Error("internal diffusion must not broadcast")
	}

	changed, err = a.DiffuseInternally(DiffusionRequest{Responsible: "agent-3"}, owner, t0.Add(time.Minute))
	mustNil(t, err)
	if changed {
		t.Error("repeating the same diffusion must be a no-op")
	}
}

func TestDiffuseInternally_WorksOnResolved(t *testing.T) {
	t.Parallel()

	a := withReport(t)
	mustNil(t, a.Resolve(Resolution{}, owner, t0))
	_, err := a.DiffuseInternally(DiffusionRequest{General: true}, owner, t0)
	mustNil(t, err)
}
