package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpilot/mcpilot/internal/backupengine"
	"github.com/mcpilot/mcpilot/internal/excludes"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, and delete server backups",
	}
	cmd.AddCommand(
		newBackupCreateCmd(),
		newBackupListCmd(),
		newBackupDeleteCmd(),
	)
	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	var (
		backupType  string
		includeLogs bool
		userExcl    []string
		skipLarge   bool
		noDefaults  bool
	)

	cmd := &cobra.Command{
		Use:   "create <server>",
		Short: "Create a backup of a server's config and data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := backupOptions(backupType, includeLogs, userExcl, skipLarge)
			if err != nil {
				return err
			}

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
			if !noDefaults {
				opts.ExcludePatterns = excludes.Merge(server.Kind, opts.ExcludePatterns)
			}

			done, cancel := a.watchProgress()
			defer cancel()

			rec, err := a.orch.Backup(ctx, currentUser(), server.ID, opts)
			<-done
			if err != nil {
				return err
			}
			fmt.Printf("Backup %s created (%s, %d bytes)\n", rec.ID, rec.Type, rec.Size)
			if rec.Replica != "" {
				fmt.Printf("Replicated to %s\n", rec.Replica)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backupType, "type", "full", "backup type: full, config, or data")
	cmd.Flags().BoolVar(&includeLogs, "include-logs", false, "include the server's log files")
	cmd.Flags().StringArrayVar(&userExcl, "exclude", nil, "glob pattern to exclude, repeatable")
	cmd.Flags().BoolVar(&skipLarge, "skip-large-files", false, "skip oversized data files")
	cmd.Flags().BoolVar(&noDefaults, "no-default-excludes", false, "back up dependency and cache directories too")
	return cmd
}

func backupOptions(backupType string, includeLogs bool, patterns []string, skipLarge bool) (backupengine.CreateOptions, error) {
	opts := backupengine.CreateOptions{
		IncludeLogs:       includeLogs,
		ExcludePatterns:   patterns,
		ExcludeLargeFiles: skipLarge,
	}
	switch backupType {
	case "", "full":
		opts.Type = backupengine.TypeFull
	case "config":
		opts.Type = backupengine.TypeConfig
	case "data":
		opts.Type = backupengine.TypeData
	default:
		return opts, fmt.Errorf("unknown backup type %q, want full, config, or data", backupType)
	}
	return opts, nil
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups across all servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			backups, err := a.orch.Backups()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSERVER\tTYPE\tSTATUS\tSIZE\tCREATED")
			for _, rec := range backups {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					rec.ID, rec.ServerName, rec.Type, rec.Status, rec.Size,
					rec.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newBackupDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <backup-id>",
		Short: "Delete a backup and its archived files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			done, cancel := a.watchProgress()
			defer cancel()

			err = a.orch.DeleteBackup(ctx, currentUser(), args[0])
			<-done
			if err != nil {
				return err
			}
			fmt.Printf("Deleted backup %s\n", args[0])
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	var (
		skipConfig bool
		skipData   bool
		withLogs   bool
		noStop     bool
		noSnapshot bool
	)

	cmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore a server from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			opts := backupengine.DefaultRestoreOptions()
			opts.RestoreConfig = !skipConfig
			opts.RestoreData = !skipData
			opts.RestoreLogs = withLogs
			opts.StopServer = !noStop
			opts.CreateBackupBeforeRestore = !noSnapshot

			done, cancel := a.watchProgress()
			defer cancel()

			err = a.orch.Restore(ctx, currentUser(), args[0], opts)
			<-done
			if err != nil {
				return err
			}
			fmt.Printf("Restored from %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipConfig, "skip-config", false, "do not restore config files")
	cmd.Flags().BoolVar(&skipData, "skip-data", false, "do not restore data files")
	cmd.Flags().BoolVar(&withLogs, "logs", false, "also restore archived log files")
	cmd.Flags().BoolVar(&noStop, "no-stop", false, "do not stop the server around the restore")
	cmd.Flags().BoolVar(&noSnapshot, "no-snapshot", false, "skip the safety snapshot taken before overwriting")
	return cmd
}
