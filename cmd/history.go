package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/trialsync/internal/model"
)

var historyCmd = &cobra.Command{
	Use:   "history <nct-id>",
	Short: "Show recorded field changes for a trial",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.History(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history")
		}
		if len(entries) == 0 {
			cmd.PrintErrln("No changes recorded.")
			return nil
		}
		formatHistory(cmd.OutOrStdout(), entries)
		return nil
	},
}

func formatHistory(out io.Writer, entries []model.HistoryEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tOLD\tNEW\tRUN\tCHANGED")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Field,
			clip(e.OldValue, 40),
			clip(e.NewValue, 40),
			truncateID(e.RunID),
			e.ChangedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
