package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTempSink(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSendAndQuery(t *testing.T) {
	s := openTempSink(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	events := []Event{
		{OccurredAt: base, Service: "web", Action: ActionCreate, OK: true},
		{OccurredAt: base.Add(time.Minute), Service: "api", Action: ActionCreate, OK: true},
		{OccurredAt: base.Add(2 * time.Minute), Service: "web", Action: ActionDeploy, OK: false, Detail: "pull failed"},
	}
	for _, e := range events {
		if err := s.Send(ctx, e); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	got, err := s.Query(ctx, "", 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	// Newest first.
	if got[0].Action != ActionDeploy || got[0].OK || got[0].Detail != "pull failed" {
		t.Fatalf("unexpected newest event: %+v", got[0])
	}
	if got[2].Action != ActionCreate || got[2].Service != "web" {
		t.Fatalf("unexpected oldest event: %+v", got[2])
	}
}

func TestQueryFiltersByService(t *testing.T) {
	s := openTempSink(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	for i, svc := range []string{"web", "api", "web"} {
		e := Event{OccurredAt: base.Add(time.Duration(i) * time.Minute), Service: svc, Action: ActionDeploy, OK: true}
		if err := s.Send(ctx, e); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	got, err := s.Query(ctx, "web", 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 web events, got %d", len(got))
	}
	for _, e := range got {
		if e.Service != "web" {
			t.Fatalf("filter leaked: %+v", e)
		}
	}
}

func TestQueryLimit(t *testing.T) {
	s := openTempSink(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := Event{OccurredAt: base.Add(time.Duration(i) * time.Minute), Service: "web", Action: ActionUpdate, OK: true}
		if err := s.Send(ctx, e); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	got, err := s.Query(ctx, "", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit not applied, got %d events", len(got))
	}
}

func TestOpenSQLiteDSNPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := OpenSQLite("sqlite://" + path)
	if err != nil {
		t.Fatalf("open with sqlite:// prefix: %v", err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Send(context.Background(), Event{Service: "web", Action: ActionCreate, OK: true}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestOpenSQLiteEmptyDSN(t *testing.T) {
	if _, err := OpenSQLite("  "); err == nil {
		t.Fatal("expected an error for an empty DSN")
	}
}

func TestNopQueryErrors(t *testing.T) {
	var n Nop
	if err := n.Send(context.Background(), Event{}); err != nil {
		t.Fatalf("nop send must not fail: %v", err)
	}
	if _, err := n.Query(context.Background(), "", 0); err == nil {
		t.Fatal("nop query should report that history is disabled")
	}
}
