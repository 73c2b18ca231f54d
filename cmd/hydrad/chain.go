package hydrad

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hydra-network/hydra/internal/chain"
	"github.com/hydra-network/hydra/internal/config"
)

var ChainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Inspect, export and import the block chain",
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-derive balances from genesis and check every chain invariant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, cleanup, err := openLedger(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		blocks := ledger.GetBlocks(0, ledger.Height())
		bar := progressbar.NewOptions(len(blocks),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetDescription("Verifying blocks..."),
			progressbar.OptionShowCount(),
		)
		if _, _, err := chain.VerifyBlocks(blocks, ledger.Params(), func() { _ = bar.Add(1) }); err != nil {
			return fmt.Errorf("chain verification failed: %w", err)
		}
		if err := bar.Finish(); err != nil {
			return fmt.Errorf("failed to finish progress bar: %w", err)
		}

		fmt.Printf("chain valid: height %d, supply %g\n", ledger.Height(), ledger.TotalSupply())
		return nil
	},
}

var chainExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the full chain to a self-describing byte stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, cleanup, err := openLedger(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		data, err := ledger.Export()
		if err != nil {
			return fmt.Errorf("failed to export chain: %w", err)
		}
		if err := os.WriteFile(args[0], data, 0o644); err != nil {
			return fmt.Errorf("failed to write export file: %w", err)
		}
		fmt.Printf("exported %d blocks to %s\n", ledger.Height()+1, args[0])
		return nil
	},
}

var chainImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace local state with a verified exported chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}

		ledger, cleanup, err := openLedger(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		bar := progressbar.NewOptions(-1,
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetDescription("Verifying imported blocks..."),
		)
		if err := ledger.Import(cmd.Context(), data, func() { _ = bar.Add(1) }); err != nil {
			return err
		}
		if err := bar.Finish(); err != nil {
			return fmt.Errorf("failed to finish progress bar: %w", err)
		}

		fmt.Printf("imported chain at height %d\n", ledger.Height())
		return nil
	},
}

// openLedger loads the persisted chain for offline inspection commands. It
// requires a durable store; the in-memory store has nothing to inspect.
func openLedger(cmd *cobra.Command) (*chain.Ledger, func(), error) {
	// Several commands declare flags under the same keys; bind the invoked
	// command's set so its values win.
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	connString := viper.GetString("postgres")
	if connString == "" {
		return nil, nil, fmt.Errorf("chain commands require --postgres")
	}

	nodeConfig := config.LoadNodeConfigFromCLI()
	nodeConfig.PostgresConn = connString
	chainStore, _, err := openStore(cmd.Context(), nodeConfig)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := chainStore.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}

	ledger := chain.NewLedger(chainStore, nodeConfig.ChainParams())
	if err := ledger.Initialize(cmd.Context(), nil); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to load chain: %w", err)
	}
	return ledger, cleanup, nil
}

func init() {
	ChainCmd.PersistentFlags().String("postgres", "", "PostgreSQL connection string")
	ChainCmd.PersistentFlags().UintP("block-time", "t", 10, "target seconds between blocks")
	ChainCmd.PersistentFlags().Int("max-block-txs", 100, "maximum transactions per block")
	ChainCmd.PersistentFlags().Int("difficulty-window", 10, "trailing blocks considered by difficulty retargeting")
	ChainCmd.PersistentFlags().Uint64("min-difficulty", 1, "minimum difficulty in leading zero bits")

	ChainCmd.AddCommand(chainVerifyCmd)
	ChainCmd.AddCommand(chainExportCmd)
	ChainCmd.AddCommand(chainImportCmd)
}
