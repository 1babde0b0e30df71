// Package foundation manages Docker services behind a shared
// reverse-proxy/SSL stack. Service records are the desired state;
// running containers are disposable projections of them, reconciled by
// shelling out to docker and git.
package foundation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foundation-sh/foundation/internal/config"
	"github.com/foundation-sh/foundation/internal/engine"
	"github.com/foundation-sh/foundation/internal/history"
	"github.com/foundation-sh/foundation/internal/proxy"
	"github.com/foundation-sh/foundation/internal/reconciler"
	"github.com/foundation-sh/foundation/internal/service"
	"github.com/foundation-sh/foundation/internal/status"
	"github.com/foundation-sh/foundation/internal/store"
)

// Re-export core types for external consumers. Aliases, so conversions
// are zero-cost.

type Service = service.Spec

type Volume = service.Volume

type RestartPolicy = service.RestartPolicy

type StatusRow = status.Row

type HistoryEvent = history.Event

type Config = config.Config

const (
	RestartNo            = service.RestartNo
	RestartAlways        = service.RestartAlways
	RestartOnFailure     = service.RestartOnFailure
	RestartUnlessStopped = service.RestartUnlessStopped
)

// Error kinds, matched with errors.Is/As.
var (
	ErrNotFound      = store.ErrNotFound
	ErrInvalidConfig = service.ErrInvalid
)

type BuildError = reconciler.BuildError

type EngineError = reconciler.EngineError

// ParseRestartPolicy re-exports restart policy validation for flag
// parsing.
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	return service.ParseRestartPolicy(s)
}

// ParseVolume re-exports "name:path" parsing for flag handling.
func ParseVolume(s string) (Volume, error) { return service.ParseVolume(s) }

// LoadConfig loads the TOML configuration, falling back to defaults
// when path is empty and no default file exists.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// System wires the store, the engine clients, the reconciler, the
// proxy bootstrap and the status reporter around one state directory
// and one Docker daemon. Constructor injection keeps the I/O explicit
// so tests can substitute a fake command runner.
type System struct {
	cfg    *Config
	logger *slog.Logger

	store      *store.Store
	docker     *engine.Docker
	git        *engine.Git
	reconciler *reconciler.Reconciler
	bootstrap  *proxy.Bootstrap
	reporter   *status.Reporter
	audit      history.Sink
}

// Open builds a System from config. The runner seam is exposed for
// tests via OpenWithRunner.
func Open(cfg *Config, logger *slog.Logger) (*System, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return OpenWithRunner(cfg, logger, engine.NewRunner(logger))
}

// OpenWithRunner is Open with an explicit command runner.
func OpenWithRunner(cfg *Config, logger *slog.Logger, runner engine.Runner) (*System, error) {
	st, err := store.Open(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	docker := engine.NewDocker(runner)
	git := engine.NewGit(runner)

	var audit history.Sink = history.Nop{}
	if cfg.History.IsEnabled() {
		sink, err := history.OpenSQLite(cfg.History.DSN)
		if err != nil {
			// The audit log is best-effort; a broken database must not
			// block deployments.
			logger.Warn("history disabled", "error", err)
		} else {
			audit = sink
		}
	}

	return &System{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		docker:     docker,
		git:        git,
		reconciler: reconciler.New(st, docker, git, cfg.Network, logger),
		bootstrap: proxy.New(docker, proxy.Config{
			Network:    cfg.Network,
			ProxyImage: cfg.ProxyImage,
			AcmeImage:  cfg.AcmeImage,
		}, logger),
		reporter: status.New(st, docker, cfg.StateDir, logger),
		audit:    audit,
	}, nil
}

// Close releases the audit log handle.
func (s *System) Close() error { return s.audit.Close() }

// Preflight verifies the external collaborators are usable before any
// mutation is attempted.
func (s *System) Preflight(ctx context.Context) error {
	if !s.docker.Installed(ctx) {
		return errors.New("docker is not installed; run `foundation install` first")
	}
	if err := s.docker.Ready(ctx); err != nil {
		return err
	}
	if !s.git.Installed(ctx) {
		return errors.New("git is not installed; run `foundation install` first")
	}
	return nil
}

// Create registers (or re-registers, updating in place) a service and
// reconciles it immediately. The source is verified before the record
// is persisted: an unreachable repo or unknown image aborts with
// nothing written.
func (s *System) Create(ctx context.Context, spec *Service) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if spec.GitSourced() {
		if !s.git.IsRepo(ctx, spec.Repo) {
			return fmt.Errorf("%w: %q is not a reachable git repository", ErrInvalidConfig, spec.Repo)
		}
	} else {
		if err := spec.NormalizeImage(); err != nil {
			return err
		}
		if !s.docker.ManifestExists(ctx, spec.Image) {
			return fmt.Errorf("%w: image %q not found in any reachable registry", ErrInvalidConfig, spec.Image)
		}
	}
	if err := s.store.Put(spec); err != nil {
		return err
	}
	err := s.reconciler.Apply(ctx, spec)
	s.record(ctx, history.ActionCreate, spec.Name, err)
	return err
}

// Delete tears down a service's container and removes its record and
// clone. Unknown names abort before any mutation.
func (s *System) Delete(ctx context.Context, name string) error {
	spec, err := s.store.Get(name)
	if err != nil {
		return err
	}
	if err := s.reconciler.Remove(ctx, spec); err != nil {
		s.record(ctx, history.ActionDelete, name, err)
		return err
	}
	err = s.store.Remove(name)
	s.record(ctx, history.ActionDelete, name, err)
	return err
}

// Deploy reconciles one service by name, or every registered service
// when name is empty.
func (s *System) Deploy(ctx context.Context, name string) error {
	if name == "" {
		err := s.reconciler.ApplyAll(ctx)
		s.record(ctx, history.ActionDeploy, "all", err)
		return err
	}
	spec, err := s.store.Get(name)
	if err != nil {
		return err
	}
	err = s.reconciler.Apply(ctx, spec)
	s.record(ctx, history.ActionDeploy, name, err)
	return err
}

// Update refreshes source for one git-built service (an error for
// image-sourced ones) or, with an empty name, refreshes all git
// services and re-pulls registry images. It reports whether any source
// changed; reconciliation is a separate Deploy step.
func (s *System) Update(ctx context.Context, name string) (bool, error) {
	if name == "" {
		err := s.reconciler.RefreshAll(ctx)
		s.record(ctx, history.ActionUpdate, "all", err)
		return true, err
	}
	spec, err := s.store.Get(name)
	if err != nil {
		return false, err
	}
	changed, err := s.reconciler.Refresh(ctx, spec)
	s.record(ctx, history.ActionUpdate, name, err)
	return changed, err
}

// Bootstrap converges the shared ingress stack and persists its
// parameters so status reports know certificate issuance is available.
func (s *System) Bootstrap(ctx context.Context, defaultEmail string) error {
	if defaultEmail == "" {
		defaultEmail = s.cfg.DefaultEmail
	}
	if err := s.bootstrap.Ensure(ctx, defaultEmail); err != nil {
		return err
	}
	return proxy.SaveState(s.cfg.StateDir, proxy.State{
		DefaultEmail:   defaultEmail,
		BootstrappedAt: time.Now().UTC(),
	})
}

// Status reports live state for the ingress containers and every
// registered service.
func (s *System) Status(ctx context.Context) ([]StatusRow, error) {
	return s.reporter.Report(ctx)
}

// Get loads one service record.
func (s *System) Get(name string) (*Service, error) { return s.store.Get(name) }

// List returns all service records in creation order.
func (s *System) List() ([]*Service, error) { return s.store.List() }

// History queries the deploy audit log.
func (s *System) History(ctx context.Context, name string, limit int) ([]HistoryEvent, error) {
	return s.audit.Query(ctx, name, limit)
}

// record writes one audit event; failures are logged, never returned.
func (s *System) record(ctx context.Context, action history.Action, name string, opErr error) {
	e := history.Event{
		OccurredAt: time.Now().UTC(),
		Service:    name,
		Action:     action,
		OK:         opErr == nil,
	}
	if opErr != nil {
		e.Detail = opErr.Error()
	}
	if err := s.audit.Send(ctx, e); err != nil {
		s.logger.Warn("audit write failed", "action", action, "service", name, "error", err)
	}
}
