package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/JonMunkholm/ingest/internal/core/dialects"
	"github.com/spf13/cobra"
)

func newDialectsCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List the registered report dialects in detection order.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := dialects.NewRegistry()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTABLE\tKEY\tDETECT\tLABEL")
			for _, d := range reg.All() {
				key := "-"
				if len(d.ConflictColumns) > 0 {
					key = strings.Join(d.ConflictColumns, ",")
					if d.ConditionalKey {
						key += " (conditional)"
					}
				}
				detect := "header"
				if d.Detect == nil {
					detect = "override"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.TargetTable, key, detect, d.Label)
			}
			return tw.Flush()
		},
	}
}
