package main

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
)

// openReadOnly opens path the same way the ingestor polls agent LDQ
// and bus WAL files: a distinct read-only DSN, never queue.Open, so
// inspection never contends with the owning process's exclusive lock.
func openReadOnly(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", path))
}

func inspectQueue(path string, w *cobra.Command) error {
	db, err := openReadOnly(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, idem, ts_ns, retries, LENGTH(bytes) FROM queue ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("query %s: %w", path, err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			id, retries, size int64
			idem              string
			tsNs              int64
		)
		if err := rows.Scan(&id, &idem, &tsNs, &retries, &size); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		ts := time.Unix(0, tsNs).UTC().Format(time.RFC3339)
		w.Printf("%-6d %-40s %-25s retries=%-3d bytes=%d\n", id, idem, ts, retries, size)
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	w.Printf("%d row(s)\n", count)
	return nil
}

func newInspectLDQCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-ldq <path>",
		Short: "Dump an agent's local durable queue file read-only",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectQueue(args[0], cmd)
		},
	}
}

func newInspectWALCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-wal <path>",
		Short: "Dump the bus's write-ahead log file read-only",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectQueue(args[0], cmd)
		},
	}
}
