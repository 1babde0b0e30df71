// Package status cross-references the record store with live engine
// state. It is strictly read-only and a per-container query failure
// degrades that row to "unknown" instead of failing the report.
package status

import (
	"context"
	"log/slog"
	"time"

	"github.com/foundation-sh/foundation/internal/engine"
	"github.com/foundation-sh/foundation/internal/proxy"
	"github.com/foundation-sh/foundation/internal/store"
)

// Kind distinguishes managed services from the shared ingress
// containers in a report.
type Kind string

const (
	KindService Kind = "service"
	KindProxy   Kind = "proxy"
)

// Row is one line of a status report.
type Row struct {
	Name   string        `json:"name"`
	Kind   Kind          `json:"kind"`
	State  string        `json:"state"`
	Uptime time.Duration `json:"uptime,omitempty"`
	URL    string        `json:"url,omitempty"`
}

// Reporter builds status reports.
type Reporter struct {
	store    *store.Store
	docker   *engine.Docker
	stateDir string
	logger   *slog.Logger
	now      func() time.Time
}

func New(st *store.Store, docker *engine.Docker, stateDir string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{store: st, docker: docker, stateDir: stateDir, logger: logger, now: time.Now}
}

// Report produces one row per ingress container (when bootstrapped)
// followed by one row per service record in creation order.
func (r *Reporter) Report(ctx context.Context) ([]Row, error) {
	specs, err := r.store.List()
	if err != nil {
		return nil, err
	}

	proxyState, bootstrapped := proxy.LoadState(r.stateDir)

	var rows []Row
	if bootstrapped {
		for _, name := range []string{proxy.ProxyContainer, proxy.AcmeContainer} {
			row := Row{Name: name, Kind: KindProxy}
			row.State, row.Uptime = r.containerState(ctx, name)
			rows = append(rows, row)
		}
	}

	for _, spec := range specs {
		row := Row{Name: spec.Name, Kind: KindService}
		row.State, row.Uptime = r.containerState(ctx, spec.Name)
		if spec.Host != "" {
			scheme := "http"
			// Certificates get issued once the companion runs with a
			// contact address, either per-service or the default one.
			if spec.ContactEmail != "" || (bootstrapped && proxyState.DefaultEmail != "") {
				scheme = "https"
			}
			row.URL = scheme + "://" + spec.Host
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// containerState inspects one container and degrades any failure to
// the "unknown" state.
func (r *Reporter) containerState(ctx context.Context, name string) (string, time.Duration) {
	state, err := r.docker.InspectState(ctx, name)
	if err != nil {
		r.logger.Debug("inspect failed", "container", name, "error", err)
		return "unknown", 0
	}
	if !state.Running {
		if state.Status == "" {
			return "unknown", 0
		}
		return state.Status, 0
	}
	uptime := r.now().Sub(state.StartedAt)
	if uptime < 0 {
		uptime = 0
	}
	return state.Status, uptime.Truncate(time.Second)
}
