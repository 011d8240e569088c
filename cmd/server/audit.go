package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"docket/pkg/platform/audit"
	auditpostgres "docket/pkg/platform/audit/store/postgres"
)

// chainReader is the part of the audit store the operator commands read.
type chainReader interface {
	ListAll(ctx context.Context) ([]audit.Record, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Record, error)
}

func auditCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}

	withStore := func(cmd *cobra.Command, fn func(chainReader) error) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		db, err := openDatabase(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(auditpostgres.New(db))
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Recompute the hash chain and report the first break",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store chainReader) error {
				return verifyChain(cmd.Context(), store, cmd.OutOrStdout())
			})
		},
	}

	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store chainReader) error {
				return printRecent(cmd.Context(), store, limit, cmd.OutOrStdout())
			})
		},
	}
	tail.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")

	cmd.AddCommand(verify, tail)
	return cmd
}

func verifyChain(ctx context.Context, store chainReader, out io.Writer) error {
	records, err := store.ListAll(ctx)
	if err != nil {
		return err
	}
	if brk := audit.Verify(records); brk != nil {
		return brk
	}
	fmt.Fprintf(out, "audit chain intact (%d records)\n", len(records))
	return nil
}

func printRecent(ctx context.Context, store chainReader, limit int, out io.Writer) error {
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	records, err := store.ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Seq", "Time", "Actor", "Action", "Outcome", "Reason", "Target"})
	for _, rec := range records {
		actor := "-"
		if rec.ActorID != nil {
			actor = rec.ActorID.String()
		}
		tw.AppendRow(table.Row{rec.Seq, rec.Timestamp.Format(time.RFC3339), actor, rec.Action, rec.Outcome, rec.Reason, rec.Target})
	}
	tw.Render()
	return nil
}
