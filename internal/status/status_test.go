package status

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/foundation-sh/foundation/internal/engine"
	"github.com/foundation-sh/foundation/internal/proxy"
	"github.com/foundation-sh/foundation/internal/service"
	"github.com/foundation-sh/foundation/internal/store"
)

type fakeRunner struct {
	out  map[string]string
	fail map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{out: map[string]string{}, fail: map[string]error{}}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmd := name + " " + strings.Join(args, " ")
	for prefix, err := range f.fail {
		if strings.HasPrefix(cmd, prefix) {
			return nil, err
		}
	}
	for prefix, out := range f.out {
		if strings.HasPrefix(cmd, prefix) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

func newHarness(t *testing.T) (*Reporter, *store.Store, *fakeRunner, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	fr := newFakeRunner()
	r := New(st, engine.NewDocker(fr), dir, nil)
	return r, st, fr, dir
}

func putService(t *testing.T, st *store.Store, name, host, email string) {
	t.Helper()
	spec := &service.Spec{
		Name:         name,
		Image:        "nginx:1.27",
		Host:         host,
		Port:         3000,
		ContactEmail: email,
		Restart:      service.RestartUnlessStopped,
	}
	if err := st.Put(spec); err != nil {
		t.Fatalf("put %s: %v", name, err)
	}
}

func TestReportRunningService(t *testing.T) {
	r, st, fr, _ := newHarness(t)
	putService(t, st, "web", "app.example.com", "")

	started := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339Nano)
	fr.out["docker inspect"] = `{"Status":"running","Running":true,"StartedAt":"` + started + `"}`

	rows, err := r.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.State != "running" {
		t.Fatalf("state = %q", row.State)
	}
	if row.Uptime < time.Hour {
		t.Fatalf("uptime not derived from StartedAt: %v", row.Uptime)
	}
	// No certificate context: plain http.
	if row.URL != "http://app.example.com" {
		t.Fatalf("url = %q", row.URL)
	}
}

func TestReportHTTPSWhenCertIssuanceConfigured(t *testing.T) {
	r, st, fr, dir := newHarness(t)
	putService(t, st, "web", "app.example.com", "")
	putService(t, st, "api", "api.example.com", "dev@example.com")
	fr.out["docker inspect"] = `{"Status":"running","Running":true,"StartedAt":"2026-08-20T10:00:00Z"}`

	if err := proxy.SaveState(dir, proxy.State{DefaultEmail: "ops@example.com"}); err != nil {
		t.Fatalf("save proxy state: %v", err)
	}

	rows, err := r.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	// Two proxy rows precede the services once bootstrapped.
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].Kind != KindProxy || rows[1].Kind != KindProxy {
		t.Fatalf("proxy rows missing: %+v", rows[:2])
	}
	for _, row := range rows[2:] {
		if !strings.HasPrefix(row.URL, "https://") {
			t.Fatalf("service %s should get https once issuance is configured, got %q", row.Name, row.URL)
		}
	}
}

func TestReportUnknownOnInspectFailure(t *testing.T) {
	r, st, fr, _ := newHarness(t)
	putService(t, st, "web", "", "")
	fr.fail["docker inspect"] = errors.New("no such container")

	rows, err := r.Report(context.Background())
	if err != nil {
		t.Fatalf("a per-container failure must not fail the report: %v", err)
	}
	if rows[0].State != "unknown" {
		t.Fatalf("state = %q, want unknown", rows[0].State)
	}
}

func TestReportStoppedService(t *testing.T) {
	r, st, fr, _ := newHarness(t)
	putService(t, st, "web", "", "")
	fr.out["docker inspect"] = `{"Status":"exited","Running":false,"StartedAt":"2026-08-20T10:00:00Z"}`

	rows, err := r.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if rows[0].State != "exited" || rows[0].Uptime != 0 {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}
