// mcpilot installs and manages MCP helper servers for a desktop assistant.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mcpilot/mcpilot/internal/containerctl"
	"github.com/mcpilot/mcpilot/internal/executor"
	"github.com/mcpilot/mcpilot/internal/execx"
	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/mcpilot/mcpilot/internal/orchestrator"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mcpilot",
		Short:         "Installer and lifecycle manager for MCP servers",
		Long:          "mcpilot installs MCP servers from repositories, wires them into the assistant's config, and manages their lifecycle, backups, and updates.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newInstallCmd(),
		newListCmd(),
		newStatusCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newRemoveCmd(),
		newLogsCmd(),
		newBackupCmd(),
		newRestoreCmd(),
		newUpdateCmd(),
		newConfigCmd(),
		newDoctorCmd(),
		newServeCmd(),
	)
	return rootCmd
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcpilot %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Date: %s\n", BuildDate)
			fmt.Printf("  Go Version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newInstallCmd() *cobra.Command {
	var (
		installPath string
		method      string
		envPairs    []string
		templateID  string
		replace     bool
	)

	cmd := &cobra.Command{
		Use:   "install <repo-url|local-path>",
		Short: "Install an MCP server from a repository or local directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvPairs(envPairs)
			if err != nil {
				return err
			}
			opts := appOptions{}
			if replace {
				opts.collision = executor.CollisionReplace
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			done, cancel := a.watchProgress()
			defer cancel()

			server, err := a.orch.Install(ctx, currentUser(), orchestrator.InstallOptions{
				RepoRef:     args[0],
				InstallPath: installPath,
				Method:      models.InstallMethod(method),
				Env:         env,
				TemplateID:  templateID,
			})
			<-done
			if err != nil {
				return err
			}
			fmt.Printf("Installed %s (%s) at %s\n", server.Name, server.ID, server.InstallPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&installPath, "path", "", "install directory (default under the install root)")
	cmd.Flags().StringVar(&method, "method", "", "install method: package-manager, python, or container (default auto-detect)")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "environment entry KEY=VALUE; VALUE may be secret:NAME")
	cmd.Flags().StringVar(&templateID, "template", "", "configuration template id")
	cmd.Flags().BoolVar(&replace, "replace", false, "replace an existing install or container instead of renaming")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			servers, err := a.orch.Servers(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tID\tKIND\tSTATUS\tVERSION")
			for _, server := range servers {
				status, err := a.orch.Status(ctx, server.ID)
				if err != nil {
					status = "unknown"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					server.Name, server.ID, server.Kind, status, server.Version)
			}
			return w.Flush()
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <server>",
		Short: "Show a server's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			server, err := a.resolveServer(ctx, args[0])
			if err != nil {
				return err
			}
			status, err := a.orch.Status(ctx, server.ID)
			if err != nil {
				return err
			}

			fmt.Printf("Name:    %s\n", server.Name)
			fmt.Printf("ID:      %s\n", server.ID)
			fmt.Printf("Kind:    %s\n", server.Kind)
			fmt.Printf("Status:  %s\n", status)
			fmt.Printf("Path:    %s\n", server.InstallPath)
			if server.Image != "" {
				fmt.Printf("Image:   %s\n", server.Image)
			}
			if server.RepoURL != "" {
				fmt.Printf("Repo:    %s\n", server.RepoURL)
			}
			if server.Version != "" {
				fmt.Printf("Version: %s\n", server.Version)
			}
			return nil
		},
	}
}

func newStartCmd() *cobra.Command {
	return newLifecycleCmd("start", "Start a server", func(a *app) lifecycleFn {
		return a.orch.Start
	})
}

func newStopCmd() *cobra.Command {
	return newLifecycleCmd("stop", "Stop a server", func(a *app) lifecycleFn {
		return a.orch.Stop
	})
}

func newRestartCmd() *cobra.Command {
	return newLifecycleCmd("restart", "Restart a server", func(a *app) lifecycleFn {
		return a.orch.Restart
	})
}

func newRemoveCmd() *cobra.Command {
	cmd := newLifecycleCmd("remove", "Remove a server, its install tree, and its config entry", func(a *app) lifecycleFn {
		return a.orch.Delete
	})
	cmd.Aliases = []string{"rm", "delete"}
	return cmd
}

type lifecycleFn func(ctx context.Context, user, serverID string) error

func newLifecycleCmd(verb, short string, pick func(a *app) lifecycleFn) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <server>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			server, err := a.resolveServer(ctx, args[0])
			if err != nil {
				return err
			}

			done, cancel := a.watchProgress()
			defer cancel()

			err = pick(a)(ctx, currentUser(), server.ID)
			<-done
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", verb, server.Name)
			return nil
		},
	}
}

func newLogsCmd() *cobra.Command {
	var (
		tail   int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "logs <server>",
		Short: "Show a container server's logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			server, err := a.resolveServer(ctx, args[0])
			if err != nil {
				return err
			}

			return a.orch.Logs(ctx, server.ID, containerctl.LogOptions{
				Tail:   tail,
				Follow: follow,
			}, func(line execx.Line) {
				out := os.Stdout
				if line.Source == execx.SourceStderr {
					out = os.Stderr
				}
				fmt.Fprintln(out, line.Text)
			})
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 200, "number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep streaming new lines")
	return cmd
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
