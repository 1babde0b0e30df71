package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foundation-sh/foundation/internal/service"
)

func newSpec(name string) *service.Spec {
	return &service.Spec{
		Name:    name,
		Image:   "nginx:1.27",
		Port:    80,
		Restart: service.RestartUnlessStopped,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	spec := newSpec("web")
	spec.Host = "app.example.com"
	spec.Port = 3000
	spec.Env = map[string]string{"MODE": "prod"}
	spec.Volumes = []service.Volume{{Name: "data", Path: "/var/lib/app"}}
	spec.GPU = true

	if err := st.Put(spec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := st.Get("web")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Host != "app.example.com" || got.Port != 3000 || !got.GPU {
		t.Fatalf("record fields lost: %+v", got)
	}
	if got.Env["MODE"] != "prod" {
		t.Fatalf("env lost: %+v", got.Env)
	}
	if len(got.Volumes) != 1 || got.Volumes[0].String() != "data:/var/lib/app" {
		t.Fatalf("volumes lost: %+v", got.Volumes)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("timestamps not maintained")
	}
}

func TestPutPreservesCreatedAt(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	spec := newSpec("web")
	if err := st.Put(spec); err != nil {
		t.Fatalf("put: %v", err)
	}
	created := spec.CreatedAt

	time.Sleep(10 * time.Millisecond)
	update := newSpec("web")
	update.Port = 8080
	if err := st.Put(update); err != nil {
		t.Fatalf("put update: %v", err)
	}

	got, err := st.Get("web")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt changed on update: %v vs %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.After(created) {
		t.Fatalf("UpdatedAt not bumped: %v", got.UpdatedAt)
	}
	if got.Port != 8080 {
		t.Fatalf("record not updated in place: %+v", got)
	}
}

func TestPutRejectsInvalidSpec(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	bad := newSpec("web")
	bad.Port = 0
	if err := st.Put(bad); !errors.Is(err, service.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := st.Get("web"); !errors.Is(err, ErrNotFound) {
		t.Fatal("invalid spec must not be persisted")
	}
}

func TestListOrderedByCreation(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, name := range []string{"zeta", "alpha", "mid"} {
		spec := newSpec(name)
		if err := st.Put(spec); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	specs, err := st.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(specs))
	}
	want := []string{"zeta", "alpha", "mid"}
	for i, spec := range specs {
		if spec.Name != want[i] {
			t.Fatalf("order mismatch at %d: got %s want %s", i, spec.Name, want[i])
		}
	}
}

func TestGetNotFound(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := st.Get("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	spec := newSpec("web")
	if err := st.Put(spec); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Simulate a git clone next to the record.
	srcDir := st.SourceDir("web")
	if err := os.MkdirAll(filepath.Join(srcDir, ".git"), 0o750); err != nil {
		t.Fatalf("mkdir clone: %v", err)
	}

	if err := st.Remove("web"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := st.Get("web"); !errors.Is(err, ErrNotFound) {
		t.Fatal("record survived removal")
	}
	if _, err := os.Stat(srcDir); !os.IsNotExist(err) {
		t.Fatal("clone directory survived removal")
	}

	if err := st.Remove("web"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second removal, got %v", err)
	}
}
