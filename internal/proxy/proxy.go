// Package proxy bootstraps the shared ingress stack: an nginx-proxy
// container that routes by the VIRTUAL_HOST convention and an
// acme-companion container that issues certificates for
// LETSENCRYPT_HOST services. Both are driven purely by environment
// variables; nothing here implements routing or ACME itself.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/foundation-sh/foundation/internal/engine"
)

const (
	ProxyContainer = "nginx-proxy"
	AcmeContainer  = "nginx-proxy-acme"
)

// Config parameterizes the ingress stack. Zero values are filled from
// the defaults the upstream images document.
type Config struct {
	Network    string
	ProxyImage string
	AcmeImage  string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Network == "" {
		out.Network = "foundation_network"
	}
	if out.ProxyImage == "" {
		out.ProxyImage = "nginxproxy/nginx-proxy"
	}
	if out.AcmeImage == "" {
		out.AcmeImage = "nginxproxy/acme-companion"
	}
	return out
}

// Bootstrap sets up the two ingress containers.
type Bootstrap struct {
	docker *engine.Docker
	cfg    Config
	logger *slog.Logger
}

func New(docker *engine.Docker, cfg Config, logger *slog.Logger) *Bootstrap {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrap{docker: docker, cfg: cfg.withDefaults(), logger: logger}
}

// Ensure converges the ingress stack: network, proxy, companion. It is
// idempotent; existing containers are recreated with the current
// parameters rather than erroring on repeat invocation. Image pulls
// happen before any teardown, so a registry failure leaves a running
// stack untouched.
func (b *Bootstrap) Ensure(ctx context.Context, defaultEmail string) error {
	if err := b.docker.Pull(ctx, b.cfg.ProxyImage); err != nil {
		return fmt.Errorf("pull proxy image: %w", err)
	}
	if err := b.docker.Pull(ctx, b.cfg.AcmeImage); err != nil {
		return fmt.Errorf("pull acme companion image: %w", err)
	}
	if err := b.docker.EnsureNetwork(ctx, b.cfg.Network); err != nil {
		return fmt.Errorf("ensure proxy network: %w", err)
	}

	// Companion first on teardown: it holds --volumes-from the proxy.
	if b.docker.Exists(ctx, AcmeContainer) {
		if err := b.docker.Remove(ctx, AcmeContainer); err != nil {
			return fmt.Errorf("replace acme companion: %w", err)
		}
	}
	if b.docker.Exists(ctx, ProxyContainer) {
		if err := b.docker.Remove(ctx, ProxyContainer); err != nil {
			return fmt.Errorf("replace proxy: %w", err)
		}
	}

	err := b.docker.RunContainer(ctx, engine.RunOpts{
		Name:  ProxyContainer,
		Image: b.cfg.ProxyImage,
		Volumes: []string{
			"certs:/etc/nginx/certs",
			"html:/usr/share/nginx/html",
			"/var/run/docker.sock:/tmp/docker.sock:ro",
		},
		Ports:   []string{"80:80", "443:443"},
		Network: b.cfg.Network,
		Restart: "unless-stopped",
	})
	if err != nil {
		return fmt.Errorf("start proxy: %w", err)
	}

	acme := engine.RunOpts{
		Name:        AcmeContainer,
		Image:       b.cfg.AcmeImage,
		Volumes:     []string{"acme:/etc/acme.sh"},
		VolumesFrom: []string{ProxyContainer},
		Network:     b.cfg.Network,
		Restart:     "unless-stopped",
	}
	if defaultEmail != "" {
		acme.Env = []string{"DEFAULT_EMAIL=" + defaultEmail}
	}
	if err := b.docker.RunContainer(ctx, acme); err != nil {
		return fmt.Errorf("start acme companion: %w", err)
	}

	b.logger.Info("ingress stack ready", "network", b.cfg.Network, "default_email", defaultEmail)
	return nil
}

// State records the last successful bootstrap so later invocations
// (status, certificate scheme) know what the ingress was set up with.
type State struct {
	DefaultEmail   string    `json:"default_email,omitempty"`
	BootstrappedAt time.Time `json:"bootstrapped_at"`
}

func statePath(stateDir string) string {
	return filepath.Join(stateDir, "proxy.json")
}

// SaveState persists the bootstrap parameters under the state dir.
func SaveState(stateDir string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(statePath(stateDir), data, 0o644)
}

// LoadState reads the last bootstrap parameters. ok is false when the
// ingress stack has never been bootstrapped.
func LoadState(stateDir string) (State, bool) {
	data, err := os.ReadFile(statePath(stateDir))
	if err != nil {
		return State{}, false
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false
	}
	return st, true
}
