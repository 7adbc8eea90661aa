package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpilot/mcpilot/internal/models"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check binaries, config entries, and disk space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			problems := 0

			if path, err := a.runner.LookPath(a.cfg.GitBinary); err != nil {
				fmt.Printf("git:       MISSING (%s not on PATH)\n", a.cfg.GitBinary)
				problems++
			} else {
				fmt.Printf("git:       ok (%s)\n", path)
			}

			if path, err := a.runner.LookPath(a.cfg.RuntimeBinary); err != nil {
				// Only a problem when a container server is installed.
				fmt.Printf("runtime:   not found (%s), container installs unavailable\n", a.cfg.RuntimeBinary)
				if n, err := containerServerCount(ctx, a); err == nil && n > 0 {
					fmt.Printf("           %d container servers cannot be managed\n", n)
					problems++
				}
			} else {
				fmt.Printf("runtime:   ok (%s)\n", path)
			}

			required, err := enabledServerNames(ctx, a)
			if err != nil {
				return err
			}
			report, err := a.configs.Verify(ctx, required)
			if err != nil {
				return err
			}
			if report.OK() {
				fmt.Printf("config:    ok (%d entries)\n", len(required))
			} else {
				fmt.Printf("config:    %d entries missing, run \"mcpilot config repair\"\n", len(report.Missing))
				problems++
			}

			m := a.sys.Collect(ctx)
			const lowWater = 1 << 30
			if m.DiskTotalBytes > 0 && m.DiskFreeBytes < lowWater {
				fmt.Printf("disk:      LOW, %d MiB free under %s\n", m.DiskFreeBytes>>20, a.cfg.InstallRoot)
				problems++
			} else {
				fmt.Printf("disk:      ok (%d GiB free, %.0f%% used)\n", m.DiskFreeBytes>>30, m.DiskUsage)
			}

			if problems > 0 {
				return fmt.Errorf("%d problems found", problems)
			}
			fmt.Println("All checks passed")
			return nil
		},
	}
}

func containerServerCount(ctx context.Context, a *app) (int, error) {
	servers, err := a.orch.Servers(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, server := range servers {
		if server.Kind == models.ServerKindContainer {
			n++
		}
	}
	return n, nil
}
