package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	foundationCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createInstallCommand(foundationCommand),
		createCreateCommand(foundationCommand),
		createDeleteCommand(foundationCommand),
		createDeployCommand(foundationCommand),
		createUpdateCommand(foundationCommand),
		createStatusCommand(foundationCommand),
		createHistoryCommand(foundationCommand),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "foundation",
		Short: "Manage Docker services with automatic reverse proxying and SSL termination",
		Long: `Foundation is a lightweight CLI for managing Docker services. It
bootstraps an nginx-proxy/acme-companion ingress stack and deploys
named services from a git repository or a registry image, routed by
hostname with automatic certificates.

Examples:
  foundation install --default-email=ops@example.com
  foundation create web --repo=https://example.com/app.git --host=app.example.com --port=3000
  foundation status
  foundation delete web`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createInstallCommand(c command) *cobra.Command {
	flags := &InstallFlags{}
	cmd := &cobra.Command{
		Use:     "install",
		Aliases: []string{"init"},
		Short:   "Initialize the foundation environment",
		Long: `Set up the shared ingress stack (reverse proxy and certificate
companion) and reconcile any already-registered services.

Examples:
  foundation install --default-email=ops@example.com
  foundation install --install-missing   # also install docker/git/railpack`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Install(cmd.Context(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.DefaultEmail, "default-email", "", "fallback email for SSL certificate registration")
	cmd.Flags().BoolVar(&flags.InstallMissing, "install-missing", false, "install docker, git and railpack if missing")
	return cmd
}

func createCreateCommand(c command) *cobra.Command {
	flags := &CreateFlags{}
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create and deploy a new service",
		Long: `Register a service from a git repository or a registry image and
deploy it immediately. Rerunning create with the same name updates the
service's record in place.

Examples:
  foundation create web --repo=https://example.com/app.git --host=app.example.com --port=3000
  foundation create cache --image=redis:7 --restart=always
  foundation create api --image=ghcr.io/acme/api -e MODE=prod -v data:/var/lib/api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Create(cmd.Context(), args[0], *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Repo, "repo", "", "source git repository URL")
	cmd.Flags().StringVar(&flags.Image, "image", "", "source container image reference")
	cmd.Flags().StringVar(&flags.Host, "host", "", "public hostname routed to the service (VIRTUAL_HOST)")
	cmd.Flags().IntVar(&flags.Port, "port", 80, "internal port the container listens on")
	cmd.Flags().StringVar(&flags.LetsencryptEmail, "letsencrypt-email", "", "per-service email for certificate notifications")
	cmd.Flags().StringArrayVarP(&flags.Env, "env", "e", nil, "environment variable in KEY=VALUE form (repeatable)")
	cmd.Flags().StringArrayVar(&flags.EnvFiles, "env-file", nil, "env file with KEY=VALUE lines (repeatable)")
	cmd.Flags().StringArrayVarP(&flags.Volumes, "volume", "v", nil, "volume mapping in name:path form (repeatable)")
	cmd.Flags().StringVar(&flags.Restart, "restart", "unless-stopped", "restart policy: no, always, on-failure, unless-stopped")
	cmd.Flags().BoolVar(&flags.GPU, "gpu", false, "request GPU capability for the container")
	return cmd
}

func createDeleteCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Stop and remove a service",
		Long: `Stop and remove a service's container, its record and any locally
cloned source tree.

Examples:
  foundation delete web`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Delete(cmd.Context(), args[0])
		},
	}
	return cmd
}

func createDeployCommand(c command) *cobra.Command {
	flags := &DeployFlags{}
	cmd := &cobra.Command{
		Use:   "deploy [NAME]",
		Short: "Reconcile one or all services",
		Long: `Make the running containers match the registered service records.
Containers are replaced, not patched, so deploy is safe to rerun at any
time.

Examples:
  foundation deploy          # all services
  foundation deploy web      # one service`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.Deploy(cmd.Context(), name, *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Quiet, "quiet", false, "suppress success output")
	return cmd
}

func createUpdateCommand(c command) *cobra.Command {
	flags := &UpdateFlags{}
	cmd := &cobra.Command{
		Use:   "update [NAME]",
		Short: "Pull latest sources and rebuild images",
		Long: `Fetch upstream changes for git-sourced services, rebuild their
images and redeploy. With no name, all git services are refreshed and
registry images re-pulled.

Examples:
  foundation update
  foundation update web
  foundation update web --no-deploy`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.Update(cmd.Context(), name, *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.NoDeploy, "no-deploy", false, "refresh sources without redeploying")
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List services and their live state",
		Long: `Report the live container state, uptime and public URL for the
ingress stack and every registered service.

Examples:
  foundation status
  foundation status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print the report as JSON")
	return cmd
}

func createHistoryCommand(c command) *cobra.Command {
	flags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history [NAME]",
		Short: "Show the deploy audit log",
		Long: `List recent create/update/deploy/delete operations, newest first,
optionally filtered to one service.

Examples:
  foundation history
  foundation history web --limit=20`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.History(cmd.Context(), name, *flags)
		},
	}
	cmd.Flags().IntVar(&flags.Limit, "limit", 50, "maximum number of events to show")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print events as JSON")
	return cmd
}
