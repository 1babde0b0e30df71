package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/distribution/reference"
)

// ErrInvalid marks configuration errors detected before any mutation.
// Callers match it with errors.Is.
var ErrInvalid = errors.New("invalid service configuration")

// RestartPolicy mirrors the container engine restart policies.
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartOnFailure     RestartPolicy = "on-failure"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// ParseRestartPolicy validates a user-supplied restart policy string.
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch RestartPolicy(s) {
	case RestartNo, RestartAlways, RestartOnFailure, RestartUnlessStopped:
		return RestartPolicy(s), nil
	case "":
		return RestartUnlessStopped, nil
	default:
		return "", fmt.Errorf("%w: unknown restart policy %q (use no, always, on-failure or unless-stopped)", ErrInvalid, s)
	}
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Spec is the declared configuration of one managed service. It is the
// sole source of truth: running containers are disposable projections
// of it, recreated on every apply.
type Spec struct {
	Name         string            `json:"name"`
	Repo         string            `json:"repo,omitempty"`
	Image        string            `json:"image,omitempty"`
	Host         string            `json:"host,omitempty"`
	Port         int               `json:"port"`
	ContactEmail string            `json:"contact_email,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Volumes      []Volume          `json:"volumes,omitempty"`
	Restart      RestartPolicy     `json:"restart"`
	GPU          bool              `json:"gpu,omitempty"`

	// Maintained by the store.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Volume is a named volume mounted at a container path.
type Volume struct {
	Name string
	Path string
}

// ParseVolume parses the docker-style "name:path" flag form. The name
// must be a named volume, not a host path.
func ParseVolume(s string) (Volume, error) {
	name, path, ok := strings.Cut(s, ":")
	if !ok || name == "" || path == "" {
		return Volume{}, fmt.Errorf("%w: volume %q must be in name:path form", ErrInvalid, s)
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return Volume{}, fmt.Errorf("%w: volume name %q must not be a path", ErrInvalid, name)
	}
	return Volume{Name: name, Path: path}, nil
}

func (v Volume) String() string { return v.Name + ":" + v.Path }

func (v Volume) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Volume) UnmarshalText(b []byte) error {
	parsed, err := ParseVolume(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// GitSourced reports whether the service is built from a git repository
// rather than pulled from a registry.
func (s *Spec) GitSourced() bool { return s.Repo != "" }

// ImageRef is the image the service container runs: the locally built
// tag for git-sourced services, the declared reference otherwise.
func (s *Spec) ImageRef() string {
	if s.GitSourced() {
		return "foundation/" + s.Name
	}
	return s.Image
}

// Validate checks the spec invariants. It never touches the engine or
// the filesystem, so a failed validation leaves nothing to undo.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: service name is required", ErrInvalid)
	}
	if !nameRe.MatchString(s.Name) {
		return fmt.Errorf("%w: service name %q must be filesystem-safe (letters, digits, '_', '.', '-')", ErrInvalid, s.Name)
	}
	if s.Repo != "" && s.Image != "" {
		return fmt.Errorf("%w: service %q declares both a repo and an image; pick one source", ErrInvalid, s.Name)
	}
	if s.Repo == "" && s.Image == "" {
		return fmt.Errorf("%w: service %q needs a source: --repo or --image", ErrInvalid, s.Name)
	}
	if s.Image != "" {
		if _, err := reference.ParseNormalizedNamed(s.Image); err != nil {
			return fmt.Errorf("%w: image reference %q: %v", ErrInvalid, s.Image, err)
		}
	}
	if s.Port <= 0 {
		return fmt.Errorf("%w: port must be a positive integer, got %d", ErrInvalid, s.Port)
	}
	if _, err := ParseRestartPolicy(string(s.Restart)); err != nil {
		return err
	}
	for _, v := range s.Volumes {
		if _, err := ParseVolume(v.String()); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeImage rewrites the image reference into its fully qualified
// form ("alpine" -> "docker.io/library/alpine:latest"). No-op for
// git-sourced services.
func (s *Spec) NormalizeImage() error {
	if s.Image == "" {
		return nil
	}
	named, err := reference.ParseNormalizedNamed(s.Image)
	if err != nil {
		return fmt.Errorf("%w: image reference %q: %v", ErrInvalid, s.Image, err)
	}
	s.Image = reference.TagNameOnly(named).String()
	return nil
}
