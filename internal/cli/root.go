package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootConfig holds the persistent flags shared by every command.
type RootConfig struct {
	ConfigPath string
	EnvPath    string
	DBPath     string
	LogLevel   string
}

func NewRootCmd() *cobra.Command {
	rc := &RootConfig{}

	cmd := &cobra.Command{
		Use:   "tradecore",
		Short: "tradecore - one engine for backtests and live trading",
		Long: `tradecore drives a strategy from an ordered event feed against either a
simulated venue (backtest) or a live exchange adapter, through the same
portfolio and risk ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&rc.ConfigPath, "config", "c", "", "path to YAML or JSON config (default: built-in defaults)")
	cmd.PersistentFlags().StringVar(&rc.EnvPath, "env", ".env", "dotenv file applied over the config")
	cmd.PersistentFlags().StringVar(&rc.DBPath, "db", "", "SQLite journal path (overrides journal.db_path)")
	cmd.PersistentFlags().StringVar(&rc.LogLevel, "log-level", "", "log level: debug|info|warn|error")

	cmd.AddCommand(
		newBacktestCmd(rc),
		newLiveCmd(rc),
		newImportCmd(rc),
		newConfigCmd(rc),
		newJournalCmd(rc),
		newVersionCmd(),
	)
	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
