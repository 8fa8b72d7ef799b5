package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trialsync/internal/export"
	"github.com/sells-group/trialsync/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored trials to CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		out, _ := cmd.Flags().GetString("out")
		since, _ := cmd.Flags().GetString("since")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		filter, err := exportFilter(since, status, limit)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		trials, err := st.ListTrials(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "export: list trials")
		}
		if err := export.ToFile(out, trials); err != nil {
			return err
		}

		zap.L().Info("export written", zap.String("path", out), zap.Int("trials", len(trials)))
		return nil
	},
}

func exportFilter(since, status string, limit int) (store.TrialFilter, error) {
	f := store.TrialFilter{Status: status, Limit: limit}
	if since != "" {
		t, err := time.Parse("2006-01-02", since)
		if err != nil {
			return f, eris.Errorf("invalid --since %q (want YYYY-MM-DD)", since)
		}
		f.UpdatedSince = &t
	}
	return f, nil
}

func init() {
	exportCmd.Flags().String("out", "", "output file (.csv or .xlsx)")
	exportCmd.Flags().String("since", "", "only trials last updated on or after this date (YYYY-MM-DD)")
	exportCmd.Flags().String("status", "", "only trials with this status code (e.g. R, C)")
	exportCmd.Flags().Int("limit", 0, "max trials to export (0 for all)")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}
