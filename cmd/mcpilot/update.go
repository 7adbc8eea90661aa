package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpilot/mcpilot/internal/updates"
)

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for and apply server updates",
	}
	cmd.AddCommand(
		newUpdateCheckCmd(),
		newUpdateApplyCmd(),
	)
	return cmd
}

func newUpdateCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <server>",
		Short: "Check whether a newer version is available",
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
			info, err := a.orch.CheckUpdate(ctx, server.ID)
			if err != nil {
				return err
			}
			printUpdateInfo(server.Name, info)
			return nil
		},
	}
}

func newUpdateApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <server>",
		Short: "Upgrade a server to the latest version",
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

			info, err := a.orch.Update(ctx, currentUser(), server.ID)
			<-done
			if err != nil {
				return err
			}
			fmt.Printf("Updated %s to %s\n", server.Name, info.LatestVersion)
			return nil
		},
	}
}

func printUpdateInfo(name string, info *updates.Info) {
	if !info.UpdateAvailable {
		fmt.Printf("%s is up to date (%s)\n", name, info.CurrentVersion)
		return
	}
	fmt.Printf("%s: update available\n", name)
	fmt.Printf("  Current: %s\n", info.CurrentVersion)
	fmt.Printf("  Latest:  %s\n", info.LatestVersion)
	if info.Revision != "" {
		fmt.Printf("  Commit:  %s %s\n", info.Revision[:min(12, len(info.Revision))], info.Subject)
	}
	if !info.CommittedAt.IsZero() {
		fmt.Printf("  Date:    %s\n", info.CommittedAt.Format(time.RFC3339))
	}
	if info.Digest != "" {
		fmt.Printf("  Digest:  %s\n", info.Digest)
	}
}
