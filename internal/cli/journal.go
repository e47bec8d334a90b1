package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradecore/journal"
)

func newJournalCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the SQLite run journal",
		Long: `Query runs, orders and fills recorded by backtest and live runs.

Examples:
  tradecore journal runs
  tradecore journal orders <run-id>
  tradecore journal fills <run-id>
  tradecore journal report <run-id>`,
	}

	var limit int
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(rc, func(j *journal.SQLite) error {
				runs, err := j.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	runsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show (0 for all)")

	ordersCmd := &cobra.Command{
		Use:   "orders <run-id>",
		Short: "List the orders of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(rc, func(j *journal.SQLite) error {
				if _, err := j.GetRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				orders, err := j.ListOrders(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tINSTRUMENT\tSIDE\tTYPE\tQTY\tFILLED\tAVG\tSTATUS\tREASON")
				for _, o := range orders {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						o.ID, o.Instrument, o.Side, o.Type, o.Qty, o.Filled, o.AvgPrice, o.Status, o.Reason)
				}
				return w.Flush()
			})
		},
	}

	fillsCmd := &cobra.Command{
		Use:   "fills <run-id>",
		Short: "List the fills of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(rc, func(j *journal.SQLite) error {
				if _, err := j.GetRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				fills, err := j.ListFills(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tFILL\tORDER\tINSTRUMENT\tSIDE\tQTY\tPRICE\tFEE")
				for _, f := range fills {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
						f.Time.UTC().Format("2006-01-02 15:04:05"), f.ID, f.OrderID, f.Instrument, f.Side, f.Qty, f.Price, f.Fee)
				}
				return w.Flush()
			})
		},
	}

	reportCmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Print an org-mode report of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(rc, func(j *journal.SQLite) error {
				ctx := cmd.Context()
				run, err := j.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				orders, err := j.ListOrders(ctx, run.RunID)
				if err != nil {
					return err
				}
				fills, err := j.ListFills(ctx, run.RunID)
				if err != nil {
					return err
				}
				return journal.Report{Run: run, Orders: orders, Fills: fills}.WriteOrg(cmd.OutOrStdout())
			})
		},
	}

	cmd.AddCommand(runsCmd, ordersCmd, fillsCmd, reportCmd)
	return cmd
}

func withJournal(rc *RootConfig, fn func(j *journal.SQLite) error) error {
	cfg, err := loadConfig(rc)
	if err != nil {
		return err
	}
	if cfg.Journal.Type != "sqlite" {
		return fmt.Errorf("journal queries need a sqlite journal (got %q); pass --db", cfg.Journal.Type)
	}
	j, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()
	return fn(j)
}

func printRuns(out io.Writer, runs []journal.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTRATEGY\tSTATE\tSTARTED\tEVENTS\tORDERS\tFILLS\tNET PNL\tRETURN")
	for _, r := range runs {
		state := r.State
		if r.HaltReason != "" {
			state += " (" + r.HaltReason + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s%%\n",
			r.RunID, r.Strategy, state, r.Started.UTC().Format("2006-01-02 15:04"),
			r.Events, r.Orders, r.Fills, r.NetPnL.StringFixed(2), r.ReturnPct().StringFixed(2))
	}
	_ = w.Flush()
}
