package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/spf13/cobra"
)

func newLedgerCommand(stdout io.Writer) *cobra.Command {
	var (
		f      core.LedgerFilter
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "List recent ledger entries, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer sess.Close()

			entries, err := sess.engine.Ledger().Recent(cmd.Context(), f)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(stdout)
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			}

			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tROWS\tTABLE\tDIALECT\tHASH\tSOURCE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					e.ID,
					e.StartedAt.Time.Format(time.RFC3339),
					e.Status,
					e.Rows,
					e.TargetTable,
					e.Dialect,
					shortHash(e.FileHash),
					e.SourceURI,
				)
			}
			return tw.Flush()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.TargetTable, "table", "", "only entries for this target table")
	flags.StringVar(&f.Status, "status", "", "only entries with this status: success, skipped, error")
	flags.StringVar(&f.FileHash, "hash", "", "only entries for this file fingerprint")
	flags.IntVarP(&f.Limit, "limit", "n", core.DefaultLedgerLimit, "maximum entries to list")
	flags.BoolVar(&asJSON, "json", false, "print one JSON object per entry")
	return cmd
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
