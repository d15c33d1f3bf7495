package httplookup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/watchpost/internal/refs"
)

func newTestClient(t *testing.T, token string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, token)
}

func TestFindByCode_Success(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "s3cret", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/records/ABC-OP-2024-00012" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"id":"rec-1","kind":"lost-item","station_id":"ABC","title":"Black backpack","status":"open"}`)
	})

	rec, err := c.FindByCode(context.Background(), "ABC-OP-2024-00012")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "rec-1" || rec.Kind != refs.KindLostItem || rec.Title != "Black backpack" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Code != "ABC-OP-2024-00012" {
		t.Errorf("Code = %q, want it filled from the request", rec.Code)
	}
}

func TestFindByCode_NotFound(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("no token configured but Authorization was sent")
		}
		http.NotFound(w, r)
	})

	_, err := c.FindByCode(context.Background(), "ABC-OP-2024-1")
	if !errors.Is(err, refs.ErrNotFound) {
		t.Errorf("err = %v, want refs.ErrNotFound", err)
	}
}

func TestFindByCode_ServerError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = fmt.Fprint(w, "upstream down")
	})

	_, err := c.FindByCode(context.Background(), "ABC-OP-2024-1")
	if err == nil || errors.Is(err, refs.ErrNotFound) {
		t.Fatalf("err = %v, want a transport error", err)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want status in message", err)
	}
}

func TestFindByCode_BadJSON(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{not json`)
	})

	if _, err := c.FindByCode(context.Background(), "ABC-OP-2024-1"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFindByCode_HonoursContext(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "", func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.FindByCode(ctx, "ABC-OP-2024-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
