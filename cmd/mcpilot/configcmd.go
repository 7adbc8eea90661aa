package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpilot/mcpilot/internal/configstore"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Verify and repair the assistant's server config file",
	}
	cmd.AddCommand(
		newConfigVerifyCmd(),
		newConfigRepairCmd(),
	)
	return cmd
}

func newConfigVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that every enabled server has a config entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			required, err := enabledServerNames(ctx, a)
			if err != nil {
				return err
			}
			report, err := a.configs.Verify(ctx, required)
			if err != nil {
				return err
			}
			if report.OK() {
				fmt.Printf("Config OK: %d entries verified\n", len(required))
				return nil
			}
			for _, name := range report.Missing {
				fmt.Printf("missing entry: %s\n", name)
			}
			return fmt.Errorf("%d entries missing, run \"mcpilot config repair\"", len(report.Missing))
		},
	}
}

func newConfigRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Rebuild missing config entries from the server registry",
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

			// Registry records carry the full command and environment, so
			// rebuilding from them beats the generic template table.
			repaired := 0
			err = a.configs.Apply(ctx, func(doc configstore.Document) (configstore.Document, error) {
				for _, server := range servers {
					if !server.Enabled {
						continue
					}
					if _, ok := doc.Server(server.Name); ok {
						continue
					}
					doc.SetServer(server.Name, configstore.ServerEntry{
						Command:     server.Command,
						Cwd:         server.InstallPath,
						Env:         server.Env,
						AutoRestart: true,
					})
					repaired++
				}
				return doc, nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("Repaired %d entries\n", repaired)
			return nil
		},
	}
}

// enabledServerNames lists the servers whose config entry should be present.
// Disabled servers legitimately have no entry.
func enabledServerNames(ctx context.Context, a *app) ([]string, error) {
	servers, err := a.orch.Servers(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, server := range servers {
		if server.Enabled {
			names = append(names, server.Name)
		}
	}
	return names, nil
}
