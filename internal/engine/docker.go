package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Docker drives the docker CLI. One method per engine operation the
// reconciler and proxy bootstrap need.
type Docker struct {
	run Runner
}

func NewDocker(r Runner) *Docker { return &Docker{run: r} }

// Installed reports whether the docker binary is on PATH and answers.
func (d *Docker) Installed(ctx context.Context) bool {
	_, err := d.run.Run(ctx, "docker", "--version")
	return err == nil
}

// Ready checks that the daemon is reachable with sufficient
// permissions. The distinction matters for the error message: a
// stopped daemon and a missing group membership need different fixes.
func (d *Docker) Ready(ctx context.Context) error {
	_, err := d.run.Run(ctx, "docker", "info")
	if err == nil {
		return nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && strings.Contains(strings.ToLower(cmdErr.Stderr), "permission denied") {
		return fmt.Errorf("permission denied while accessing docker; ensure your user may run docker commands: %w", err)
	}
	return fmt.Errorf("docker daemon is not reachable; start the docker service and retry: %w", err)
}

// Pull fetches an image from its registry.
func (d *Docker) Pull(ctx context.Context, image string) error {
	_, err := d.run.Run(ctx, "docker", "pull", image)
	return err
}

// ManifestExists probes the registry for an image reference without
// pulling it.
func (d *Docker) ManifestExists(ctx context.Context, image string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := d.run.Run(probeCtx, "docker", "manifest", "inspect", image)
	return err == nil
}

// BuildDir builds an image tag from a source directory. A Dockerfile
// wins; otherwise the railpack buildx frontend infers a build plan from
// the tree, as upstream buildpack-style deployments do.
func (d *Docker) BuildDir(ctx context.Context, dir, tag string) error {
	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err == nil {
		_, err := d.run.Run(ctx, "docker", "build", "-t", tag, dir)
		return err
	}
	return d.buildWithRailpack(ctx, dir, tag)
}

func (d *Docker) buildWithRailpack(ctx context.Context, dir, tag string) error {
	if _, err := d.run.Run(ctx, "docker", "buildx", "use", "railpack-builder"); err != nil {
		if _, err := d.run.Run(ctx, "docker", "buildx", "create", "--name", "railpack-builder", "--driver", "docker-container", "--use"); err != nil {
			return fmt.Errorf("create railpack builder: %w", err)
		}
	}
	if _, err := d.run.Run(ctx, "docker", "buildx", "inspect", "--bootstrap"); err != nil {
		return fmt.Errorf("bootstrap railpack builder: %w", err)
	}

	plan := filepath.Join(dir, "railpack-plan.json")
	if _, err := d.run.Run(ctx, "railpack", "plan", dir, "-o", plan); err != nil {
		return fmt.Errorf("generate railpack plan: %w", err)
	}
	defer func() { _ = os.Remove(plan) }()

	_, err := d.run.Run(ctx, "docker", "buildx", "build",
		"--build-arg", "BUILDKIT_SYNTAX=ghcr.io/railwayapp/railpack-frontend",
		"-f", plan, "--load", "-t", tag, dir)
	return err
}

// EnsureNetwork creates the shared proxy network if it does not exist.
func (d *Docker) EnsureNetwork(ctx context.Context, name string) error {
	if _, err := d.run.Run(ctx, "docker", "network", "inspect", name); err == nil {
		return nil
	}
	_, err := d.run.Run(ctx, "docker", "network", "create", name)
	return err
}

// RunOpts describes one docker run invocation.
type RunOpts struct {
	Name        string
	Image       string
	Env         []string // KEY=VALUE, already ordered
	Volumes     []string // name:path
	VolumesFrom []string
	Ports       []string // host:container
	Network     string
	Restart     string
	GPU         bool
}

// RunContainer starts a detached container.
func (d *Docker) RunContainer(ctx context.Context, opts RunOpts) error {
	args := []string{"run", "-d", "--name", opts.Name}
	if opts.Network != "" {
		args = append(args, "--network", opts.Network)
	}
	if opts.Restart != "" {
		args = append(args, "--restart", opts.Restart)
	}
	for _, e := range opts.Env {
		args = append(args, "-e", e)
	}
	for _, v := range opts.Volumes {
		args = append(args, "-v", v)
	}
	for _, v := range opts.VolumesFrom {
		args = append(args, "--volumes-from", v)
	}
	for _, p := range opts.Ports {
		args = append(args, "-p", p)
	}
	if opts.GPU {
		args = append(args, "--gpus", "all")
	}
	args = append(args, opts.Image)
	_, err := d.run.Run(ctx, "docker", args...)
	return err
}

// Exists reports whether a container with the exact name is known to
// the engine, running or not.
func (d *Docker) Exists(ctx context.Context, name string) bool {
	out, err := d.run.Run(ctx, "docker", "ps", "-a", "--filter", "name=^"+name+"$", "--format", "{{.Names}}")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == name {
			return true
		}
	}
	return false
}

// Stop stops a running container. Stopping an already stopped
// container is not an error at this layer.
func (d *Docker) Stop(ctx context.Context, name string) error {
	_, err := d.run.Run(ctx, "docker", "stop", name)
	return err
}

// Remove deletes a container.
func (d *Docker) Remove(ctx context.Context, name string) error {
	_, err := d.run.Run(ctx, "docker", "rm", "-f", name)
	return err
}

// ContainerState is the subset of docker inspect .State the status
// reporter consumes.
type ContainerState struct {
	Status    string    `json:"Status"`
	Running   bool      `json:"Running"`
	StartedAt time.Time `json:"StartedAt"`
}

// InspectState queries the live state of one container.
func (d *Docker) InspectState(ctx context.Context, name string) (ContainerState, error) {
	out, err := d.run.Run(ctx, "docker", "inspect", "--format", "{{json .State}}", name)
	if err != nil {
		return ContainerState{}, err
	}
	var state ContainerState
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(out))), &state); err != nil {
		return ContainerState{}, fmt.Errorf("parse container state for %s: %w", name, err)
	}
	return state, nil
}
