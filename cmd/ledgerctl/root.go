package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ledger-backend/internal/bootstrap"
	"ledger-backend/internal/documents"
	"ledger-backend/internal/ledger"
	"ledger-backend/internal/shared/config"
)

var errVerifyFailed = errors.New("ledger verification found problems")

type rootOptions struct {
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and audit the document ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of a table")

	root.AddCommand(
		newHistoryCmd(opts),
		newLookupCmd(),
		newVerifyCmd(opts),
	)
	return root
}

// withService opens the ledger service read-only from the environment and
// closes it after fn returns.
func withService(ctx context.Context, fn func(*documents.Service) error) error {
	app, err := bootstrap.BuildReadOnly(ctx, config.Load())
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app.DocumentsService)
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history [savedAs]",
		Short: "Print ledger entries, optionally for one document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *documents.Service) error {
				entries, err := svc.History(cmd.Context())
				if err != nil {
					return err
				}
				records := make([]ledger.Record, 0, len(entries))
				for _, e := range entries {
					if len(args) == 1 && e.Base().SavedAs != args[0] {
						continue
					}
					records = append(records, ledger.ToRecord(e))
				}
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				return writeHistoryTable(cmd.OutOrStdout(), records)
			})
		},
	}
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <name>",
		Short: "Resolve a storage name or original file name to its URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *documents.Service) error {
				url, err := svc.Lookup(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), url)
				return err
			})
		},
	}
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-hash every live document and report missing or altered files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *documents.Service) error {
				report, err := svc.Verify(cmd.Context(), concurrency)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					if err := writeJSON(out, report); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(out, "checked %d documents\n", report.Checked)
					for _, name := range report.Missing {
						fmt.Fprintf(out, "missing    %s\n", name)
					}
					for _, m := range report.Mismatched {
						fmt.Fprintf(out, "mismatched %s recorded=%s actual=%s\n", m.SavedAs, m.Recorded, m.Actual)
					}
				}
				if !report.OK() {
					return errVerifyFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of documents hashed at once")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeHistoryTable(w io.Writer, records []ledger.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tSTATUS\tSAVED AS\tORIGINAL\tHASH")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Timestamp, r.Status, r.SavedAs, r.OriginalFileName, shortHash(r.Hash))
	}
	return tw.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
