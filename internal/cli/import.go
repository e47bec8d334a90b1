package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradecore/feed"
	"github.com/rustyeddy/tradecore/store"
)

func newImportCmd(_ *RootConfig) *cobra.Command {
	var (
		csvPath string
		dbPath  string
		batch   int
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a CSV event file into a Pebble event store",
		Long: `Import reads events in the canonical CSV layout and appends them to a
Pebble store that backtests can read with data.source: pebble.

Example:
  tradecore import --csv data/btc.csv --store data/events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			cur, err := feed.NewCSVSource(csvPath).All(cmd.Context())
			if err != nil {
				return fmt.Errorf("open csv: %w", err)
			}
			defer cur.Close()

			n, err := st.Import(cmd.Context(), cur, batch)
			if err != nil {
				return fmt.Errorf("import after %d events: %w", n, err)
			}
			insts, err := st.Instruments()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d events from %s into %s\n", n, filepath.Base(csvPath), dbPath)
			fmt.Fprintf(out, "  Instruments: %v\n", insts)
			return nil
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV event file (required)")
	cmd.Flags().StringVar(&dbPath, "store", "./events", "Pebble store directory")
	cmd.Flags().IntVar(&batch, "batch", 1000, "events per write batch")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}
