package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/foundation-sh/foundation"
	"github.com/foundation-sh/foundation/internal/logger"
)

type command struct {
	global *GlobalFlags
}

// open loads config, builds the logger and wires the system. Every
// subcommand goes through here so the state directory and engine
// handles are constructed the same way.
func (c *command) open() (*foundation.System, *foundation.Config, error) {
	cfg, err := foundation.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Dir:        cfg.Log.Dir,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	sys, err := foundation.Open(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return sys, cfg, nil
}

// Install bootstraps the ingress stack and reconciles any existing
// services. It is the one command that runs without preflight, since
// it may be fixing exactly what preflight complains about.
func (c *command) Install(ctx context.Context, f InstallFlags) error {
	if f.InstallMissing {
		if err := installMissingTools(ctx); err != nil {
			return err
		}
	}
	sys, _, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = sys.Close() }()

	if err := sys.Preflight(ctx); err != nil {
		if !f.InstallMissing {
			return fmt.Errorf("%w (or rerun with --install-missing)", err)
		}
		return err
	}
	if err := sys.Bootstrap(ctx, f.DefaultEmail); err != nil {
		return err
	}
	fmt.Println("Installed foundation. Run `foundation create` to create a new service.")
	if err := sys.Deploy(ctx, ""); err != nil {
		return err
	}
	return nil
}

// Create registers a service from flags and reconciles it. An existing
// name updates the record in place.
func (c *command) Create(ctx context.Context, name string, f CreateFlags) error {
	sys, _, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = sys.Close() }()
	if err := sys.Preflight(ctx); err != nil {
		return err
	}

	restart, err := foundation.ParseRestartPolicy(f.Restart)
	if err != nil {
		return err
	}

	env := map[string]string{}
	for _, file := range f.EnvFiles {
		pairs, err := godotenv.Read(file)
		if err != nil {
			return fmt.Errorf("read env file %s: %w", file, err)
		}
		for k, v := range pairs {
			env[k] = v
		}
	}
	for _, kv := range f.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("environment variable %q must be in KEY=VALUE form", kv)
		}
		env[k] = v
	}
	if len(env) == 0 {
		env = nil
	}

	var volumes []foundation.Volume
	for _, v := range f.Volumes {
		vol, err := foundation.ParseVolume(v)
		if err != nil {
			return err
		}
		volumes = append(volumes, vol)
	}

	spec := &foundation.Service{
		Name:         name,
		Repo:         f.Repo,
		Image:        f.Image,
		Host:         f.Host,
		Port:         f.Port,
		ContactEmail: f.LetsencryptEmail,
		Env:          env,
		Volumes:      volumes,
		Restart:      restart,
		GPU:          f.GPU,
	}
	if err := sys.Create(ctx, spec); err != nil {
		return err
	}
	fmt.Printf("Service %q successfully created.\n", name)
	return nil
}

// Delete deregisters a service and tears down its container and clone.
func (c *command) Delete(ctx context.Context, name string) error {
	sys, _, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = sys.Close() }()
	if err := sys.Preflight(ctx); err != nil {
		return err
	}
	if err := sys.Delete(ctx, name); err != nil {
		return err
	}
	fmt.Printf("Service %q successfully deleted.\n", name)
	return nil
}

// Deploy reconciles one service or all of them.
func (c *command) Deploy(ctx context.Context, name string, f DeployFlags) error {
	sys, _, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = sys.Close() }()
	if err := sys.Preflight(ctx); err != nil {
		return err
	}
	if err := sys.Deploy(ctx, name); err != nil {
		return err
	}
	if !f.Quiet {
		if name == "" {
			fmt.Println("Deployed all services.")
		} else {
			fmt.Printf("Deployed service %q.\n", name)
		}
	}
	return nil
}

// Update refreshes sources/images and redeploys unless told not to.
func (c *command) Update(ctx context.Context, name string, f UpdateFlags) error {
	sys, _, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = sys.Close() }()
	if err := sys.Preflight(ctx); err != nil {
		return err
	}
	changed, err := sys.Update(ctx, name)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Println("Everything is already up to date.")
		return nil
	}
	if f.NoDeploy {
		fmt.Println("Changes pulled. Run `foundation deploy` to deploy them.")
		return nil
	}
	return sys.Deploy(ctx, name)
}

// Status prints the live report.
func (c *command) Status(ctx context.Context, f StatusFlags) error {
	sys, _, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = sys.Close() }()
	if err := sys.Preflight(ctx); err != nil {
		return err
	}
	rows, err := sys.Status(ctx)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(rows)
		return nil
	}
	if len(rows) == 0 {
		fmt.Println("You have no defined services. Run `foundation create` to create a service.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tSTATE\tUPTIME\tURL")
	for _, r := range rows {
		uptime := "-"
		if r.Uptime > 0 {
			uptime = r.Uptime.String()
		}
		url := r.URL
		if url == "" {
			url = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Kind, r.State, uptime, url)
	}
	return w.Flush()
}

// History prints the deploy audit log.
func (c *command) History(ctx context.Context, name string, f HistoryFlags) error {
	sys, _, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = sys.Close() }()
	events, err := sys.History(ctx, name, f.Limit)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(events)
		return nil
	}
	if len(events) == 0 {
		fmt.Println("No history recorded yet.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSERVICE\tACTION\tRESULT\tDETAIL")
	for _, e := range events {
		result := "ok"
		if !e.OK {
			result = "failed"
		}
		detail := e.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.OccurredAt.Local().Format(time.RFC3339), e.Service, e.Action, result, detail)
	}
	return w.Flush()
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
