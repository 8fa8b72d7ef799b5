package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/trialsync/internal/ctgov"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <nct-id>...",
	Short: "Download full-study XML without ingesting it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		outDir, _ := cmd.Flags().GetString("out")

		client := ctgov.NewFromConfig(cfg.Registry)
		results, err := client.FetchAll(ctx, args, cfg.Registry.Concurrency)
		if err != nil {
			return err
		}

		if outDir != "" {
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return eris.Wrapf(err, "create %s", outDir)
			}
		}

		var failed int
		for _, r := range results {
			if r.Err != nil {
				failed++
				cmd.PrintErrf("%s: %v\n", r.NCTID, r.Err)
				continue
			}
			if outDir == "" {
				if _, err := cmd.OutOrStdout().Write(append(r.Data, '\n')); err != nil {
					return eris.Wrap(err, "write study")
				}
				continue
			}
			path := filepath.Join(outDir, r.NCTID+".xml")
			if err := os.WriteFile(path, r.Data, 0o644); err != nil {
				return eris.Wrapf(err, "write %s", path)
			}
		}
		if failed > 0 {
			return eris.Errorf("%d of %d studies could not be fetched", failed, len(results))
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().String("out", "", "directory to write <nct-id>.xml files (default stdout)")
	rootCmd.AddCommand(fetchCmd)
}
