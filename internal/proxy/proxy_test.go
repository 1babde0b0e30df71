package proxy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/foundation-sh/foundation/internal/engine"
)

type fakeRunner struct {
	calls []string
	out   map[string]string
	fail  map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{out: map[string]string{}, fail: map[string]error{}}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmd := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, cmd)
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

func (f *fakeRunner) find(prefix string) string {
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return c
		}
	}
	return ""
}

func TestEnsureStartsIngressStack(t *testing.T) {
	fr := newFakeRunner()
	b := New(engine.NewDocker(fr), Config{}, nil)

	if err := b.Ensure(context.Background(), "ops@example.com"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if fr.find("docker pull nginxproxy/nginx-proxy") == "" {
		t.Fatal("proxy image not pulled")
	}
	if fr.find("docker pull nginxproxy/acme-companion") == "" {
		t.Fatal("acme image not pulled")
	}

	proxyRun := fr.find("docker run -d --name nginx-proxy ")
	if proxyRun == "" {
		t.Fatalf("proxy container not started, calls: %v", fr.calls)
	}
	for _, want := range []string{
		"-p 80:80", "-p 443:443",
		"-v certs:/etc/nginx/certs",
		"-v /var/run/docker.sock:/tmp/docker.sock:ro",
		"--network foundation_network",
		"--restart unless-stopped",
	} {
		if !strings.Contains(proxyRun, want) {
			t.Fatalf("proxy run missing %q: %s", want, proxyRun)
		}
	}

	acmeRun := fr.find("docker run -d --name nginx-proxy-acme")
	if acmeRun == "" {
		t.Fatalf("acme container not started, calls: %v", fr.calls)
	}
	for _, want := range []string{
		"-e DEFAULT_EMAIL=ops@example.com",
		"-v acme:/etc/acme.sh",
		"--volumes-from nginx-proxy",
	} {
		if !strings.Contains(acmeRun, want) {
			t.Fatalf("acme run missing %q: %s", want, acmeRun)
		}
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	fr := newFakeRunner()
	b := New(engine.NewDocker(fr), Config{}, nil)

	if err := b.Ensure(context.Background(), "ops@example.com"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	// Both containers now "exist"; a repeat run must replace them
	// without erroring.
	fr.out["docker ps -a"] = "nginx-proxy\nnginx-proxy-acme\n"
	if err := b.Ensure(context.Background(), "ops@example.com"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if fr.find("docker rm -f nginx-proxy") == "" {
		t.Fatal("expected existing proxy to be replaced")
	}
}

func TestEnsurePullFailureLeavesStackUntouched(t *testing.T) {
	fr := newFakeRunner()
	fr.fail["docker pull"] = errors.New("registry unreachable")
	fr.out["docker ps -a"] = "nginx-proxy\nnginx-proxy-acme\n"
	b := New(engine.NewDocker(fr), Config{}, nil)

	if err := b.Ensure(context.Background(), "ops@example.com"); err == nil {
		t.Fatal("expected pull failure to surface")
	}
	if fr.find("docker rm") != "" {
		t.Fatal("running stack must not be torn down after a failed pull")
	}
}

func TestStateRoundTrip(t *testing.T) {
	dir := t.TempDir()

	if _, ok := LoadState(dir); ok {
		t.Fatal("state should not exist before bootstrap")
	}

	st := State{DefaultEmail: "ops@example.com"}
	if err := SaveState(dir, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok := LoadState(dir)
	if !ok {
		t.Fatal("state not found after save")
	}
	if got.DefaultEmail != "ops@example.com" {
		t.Fatalf("unexpected state: %+v", got)
	}
}
