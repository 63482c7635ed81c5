package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"chatkeeper/internal/storage"
)

// storectl is the operator's view of the conversation store: inspect keys,
// pull blobs, and drive backup/restore without going through the bot.
func main() {
	var dbPath string

	root := &cobra.Command{
		Use:          "storectl",
		Short:        "Inspect and manage the chatkeeper conversation store",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "data/chatkeeper.db", "path to the sqlite database")

	openConn := func() *storage.Conn {
		return storage.Open(dbPath, false)
	}

	root.AddCommand(&cobra.Command{
		Use:   "keys",
		Short: "List all stored keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := openConn()
			defer conn.Shutdown()
			keys, err := storage.NewChunkedStore(conn).ListKeys(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := openConn()
			defer conn.Shutdown()
			value, err := storage.NewChunkedStore(conn).Get(cmd.Context(), args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("key %q not found", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Delete all chunks stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := openConn()
			defer conn.Shutdown()
			n, err := storage.NewChunkedStore(conn).Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d chunk(s)\n", n)
			return nil
		},
	})

	var interval, retention time.Duration
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Take a snapshot if the latest one is stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := openConn()
			defer conn.Shutdown()
			return storage.NewBackupManager(conn, interval, retention).CheckAndBackup(cmd.Context())
		},
	}
	backupCmd.Flags().DurationVar(&interval, "interval", 24*time.Hour, "minimum age of the latest snapshot before a new one is taken")
	backupCmd.Flags().DurationVar(&retention, "retention", 7*24*time.Hour, "how long snapshots are kept")
	root.AddCommand(backupCmd)

	root.AddCommand(&cobra.Command{
		Use:   "backups",
		Short: "List retained snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := openConn()
			defer conn.Shutdown()
			backups, err := storage.NewBackupManager(conn, 0, 0).ListBackups(cmd.Context())
			if err != nil {
				return err
			}
			for _, b := range backups {
				fmt.Printf("%s\t%d document(s)\texpires %s\n",
					b.CreatedAt.Format(time.RFC3339Nano), b.TotalDocuments, b.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	})

	var at string
	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace the live keyspace with a snapshot (latest by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := openConn()
			defer conn.Shutdown()
			var ts time.Time
			if at != "" {
				parsed, err := time.Parse(time.RFC3339Nano, at)
				if err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
				ts = parsed
			}
			return storage.NewBackupManager(conn, 0, 0).Restore(cmd.Context(), ts)
		},
	}
	restoreCmd.Flags().StringVar(&at, "at", "", "snapshot timestamp (RFC3339) as printed by 'backups'")
	root.AddCommand(restoreCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
