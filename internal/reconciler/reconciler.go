// Package reconciler makes the running container state match the
// declared service records. The policy is convergence, not diffing:
// every apply rebuilds the container from the record instead of
// computing a minimal patch. That keeps apply idempotent and makes the
// next run the recovery path for anything interrupted mid-operation.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/samber/lo"

	"github.com/foundation-sh/foundation/internal/engine"
	"github.com/foundation-sh/foundation/internal/service"
	"github.com/foundation-sh/foundation/internal/store"
)

// BuildError means the image build or pull failed. The previously
// running container, if any, has not been touched.
type BuildError struct {
	Service string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build image for service %q: %v", e.Service, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// EngineError means a container start/stop/remove failed after the
// image was ready.
type EngineError struct {
	Service string
	Op      string
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s container for service %q: %v", e.Op, e.Service, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Reconciler projects service records onto the container engine. It
// never persists records; the store stays the single owner of state.
type Reconciler struct {
	store   *store.Store
	docker  *engine.Docker
	git     *engine.Git
	network string
	logger  *slog.Logger
}

func New(st *store.Store, docker *engine.Docker, git *engine.Git, network string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: st, docker: docker, git: git, network: network, logger: logger}
}

// Apply converges one service: ensure its image exists, then replace
// whatever container is running with a fresh one built from the
// record. A failed build aborts before the old container is touched.
func (r *Reconciler) Apply(ctx context.Context, spec *service.Spec) error {
	if err := r.ensureImage(ctx, spec); err != nil {
		return &BuildError{Service: spec.Name, Err: err}
	}
	if err := r.docker.EnsureNetwork(ctx, r.network); err != nil {
		return &EngineError{Service: spec.Name, Op: "network", Err: err}
	}
	if r.docker.Exists(ctx, spec.Name) {
		if err := r.docker.Stop(ctx, spec.Name); err != nil {
			// A container that is created but not running refuses a
			// stop; the forced remove below covers it.
			r.logger.Debug("stop before replace failed", "service", spec.Name, "error", err)
		}
		if err := r.docker.Remove(ctx, spec.Name); err != nil {
			return &EngineError{Service: spec.Name, Op: "remove", Err: err}
		}
	}
	opts := engine.RunOpts{
		Name:    spec.Name,
		Image:   spec.ImageRef(),
		Env:     containerEnv(spec),
		Volumes: lo.Map(spec.Volumes, func(v service.Volume, _ int) string { return v.String() }),
		Network: r.network,
		Restart: string(spec.Restart),
		GPU:     spec.GPU,
	}
	if err := r.docker.RunContainer(ctx, opts); err != nil {
		return &EngineError{Service: spec.Name, Op: "start", Err: err}
	}
	r.logger.Info("service reconciled", "service", spec.Name, "image", opts.Image)
	return nil
}

// ApplyAll converges every record in the store, strictly sequential.
// A failure for one service is recorded and the rest still get
// reconciled; the aggregate error joins the per-service failures.
func (r *Reconciler) ApplyAll(ctx context.Context) error {
	specs, err := r.store.List()
	if err != nil {
		return err
	}
	var errs []error
	for _, spec := range specs {
		if err := r.Apply(ctx, spec); err != nil {
			r.logger.Error("reconcile failed", "service", spec.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Refresh pulls new source for one git-built service and rebuilds its
// image when the upstream moved. It reports whether anything changed.
// Image-sourced services have no source to refresh; naming one is a
// configuration error.
func (r *Reconciler) Refresh(ctx context.Context, spec *service.Spec) (bool, error) {
	if !spec.GitSourced() {
		return false, fmt.Errorf("%w: service %q is image-sourced; update applies only to git-sourced services", service.ErrInvalid, spec.Name)
	}
	dir := r.store.SourceDir(spec.Name)
	if _, err := os.Stat(dir); err != nil {
		// No clone yet: ensure one and build, same as a first apply.
		if err := r.ensureImage(ctx, spec); err != nil {
			return false, &BuildError{Service: spec.Name, Err: err}
		}
		return true, nil
	}
	if err := r.git.Fetch(ctx, dir); err != nil {
		return false, &BuildError{Service: spec.Name, Err: err}
	}
	head, err := r.git.Head(ctx, dir)
	if err != nil {
		return false, &BuildError{Service: spec.Name, Err: err}
	}
	upstream, err := r.git.Upstream(ctx, dir)
	if err != nil {
		return false, &BuildError{Service: spec.Name, Err: err}
	}
	if head == upstream {
		return false, nil
	}
	if err := r.git.ResetToUpstream(ctx, dir); err != nil {
		return false, &BuildError{Service: spec.Name, Err: err}
	}
	if err := r.docker.BuildDir(ctx, dir, spec.ImageRef()); err != nil {
		return false, &BuildError{Service: spec.Name, Err: err}
	}
	r.logger.Info("source refreshed", "service", spec.Name, "from", head, "to", upstream)
	return true, nil
}

// RefreshAll refreshes every git-sourced service and re-pulls registry
// images for the rest. Failures are joined, not fatal per service.
func (r *Reconciler) RefreshAll(ctx context.Context) error {
	specs, err := r.store.List()
	if err != nil {
		return err
	}
	var errs []error
	for _, spec := range specs {
		if spec.GitSourced() {
			if _, err := r.Refresh(ctx, spec); err != nil {
				r.logger.Error("refresh failed", "service", spec.Name, "error", err)
				errs = append(errs, err)
			}
			continue
		}
		if err := r.docker.Pull(ctx, spec.ImageRef()); err != nil {
			r.logger.Error("pull failed", "service", spec.Name, "error", err)
			errs = append(errs, &BuildError{Service: spec.Name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Remove tears down the container for a service. The store owns the
// record and clone cleanup.
func (r *Reconciler) Remove(ctx context.Context, spec *service.Spec) error {
	if !r.docker.Exists(ctx, spec.Name) {
		return nil
	}
	if err := r.docker.Stop(ctx, spec.Name); err != nil {
		r.logger.Warn("stop before remove failed", "service", spec.Name, "error", err)
	}
	if err := r.docker.Remove(ctx, spec.Name); err != nil {
		return &EngineError{Service: spec.Name, Op: "remove", Err: err}
	}
	return nil
}

// ensureImage makes spec.ImageRef() available locally: clone+build for
// git sources, pull for registry images.
func (r *Reconciler) ensureImage(ctx context.Context, spec *service.Spec) error {
	if !spec.GitSourced() {
		return r.docker.Pull(ctx, spec.ImageRef())
	}
	dir := r.store.SourceDir(spec.Name)
	if _, err := os.Stat(dir); err != nil {
		if err := r.git.Clone(ctx, spec.Repo, dir); err != nil {
			return err
		}
	}
	return r.docker.BuildDir(ctx, dir, spec.ImageRef())
}

// containerEnv assembles the container environment: declared variables
// in stable order, then the reverse-proxy routing convention when a
// host is set.
func containerEnv(spec *service.Spec) []string {
	keys := lo.Keys(spec.Env)
	sort.Strings(keys)
	env := make([]string, 0, len(keys)+4)
	for _, k := range keys {
		env = append(env, k+"="+spec.Env[k])
	}
	if spec.Host != "" {
		env = append(env,
			"VIRTUAL_HOST="+spec.Host,
			fmt.Sprintf("VIRTUAL_PORT=%d", spec.Port),
			"LETSENCRYPT_HOST="+spec.Host,
		)
		if spec.ContactEmail != "" {
			env = append(env, "LETSENCRYPT_EMAIL="+spec.ContactEmail)
		}
	}
	return env
}
