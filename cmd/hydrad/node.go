package hydrad

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hydra-network/hydra/internal/chain"
	"github.com/hydra-network/hydra/internal/config"
	"github.com/hydra-network/hydra/internal/consensus"
	"github.com/hydra-network/hydra/internal/metrics"
	"github.com/hydra-network/hydra/internal/node"
	"github.com/hydra-network/hydra/internal/store"
	"github.com/hydra-network/hydra/internal/wallet"
)

var NodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run the HYDRA node",
	Long:  `Run the full node: ledger, miner, proposal validation and peer catch-up sync.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeConfig := config.LoadNodeConfigFromCLI()
		if err := nodeConfig.Validate(); err != nil {
			return fmt.Errorf("invalid node configuration: %w", err)
		}
		consensusConfig := config.LoadConsensusConfigFromCLI()
		if err := consensusConfig.Validate(); err != nil {
			return fmt.Errorf("invalid consensus configuration: %w", err)
		}
		slog.Debug("Command-line arguments", "nodeConfig", nodeConfig, "consensusConfig", consensusConfig)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		handleInterrupt(cancel)

		w, err := openWallet()
		if err != nil {
			return err
		}

		chainStore, db, err := openStore(ctx, nodeConfig)
		if err != nil {
			return err
		}
		defer chainStore.Close()

		ledger := chain.NewLedger(chainStore, nodeConfig.ChainParams())
		if err := ledger.Initialize(ctx, genesisDistribution(w)); err != nil {
			return fmt.Errorf("failed to initialize ledger: %w", err)
		}

		engine := consensus.NewEngine(ledger, consensusConfig.Policy())
		n := node.New(nodeConfig, ledger, w, engine, nil)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return n.Run(ctx) })

		if nodeConfig.EnableMetrics {
			server, err := metrics.CreateMetricsServer(ledger, db, nodeConfig.MetricsAddr)
			if err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				return server.Shutdown(shutdownCtx)
			})
		}

		if listenAddr := viper.GetString("listen"); listenAddr != "" {
			server := &http.Server{Addr: listenAddr, Handler: node.ChainHandler(ledger)}
			g.Go(func() error {
				slog.Info("Chain sync endpoint listening", "addr", listenAddr)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				return server.Shutdown(shutdownCtx)
			})
		}

		return g.Wait()
	},
}

func init() {
	NodeCmd.PersistentFlags().String("postgres", "", "PostgreSQL connection string (empty = in-memory store)")
	NodeCmd.PersistentFlags().String("genesis", "", "path to a genesis distribution file (JSON address->amount)")
	NodeCmd.PersistentFlags().Float64("genesis-supply", 1000000, "initial supply minted to this wallet when no genesis file is given")
	NodeCmd.PersistentFlags().Bool("miner", true, "mine blocks from the pending pool")
	NodeCmd.PersistentFlags().String("listen", "", "address to serve the chain sync endpoints on")
	NodeCmd.PersistentFlags().StringSlice("peers", nil, "peer base URLs to sync from")
	NodeCmd.PersistentFlags().Uint("sync-interval", 30, "seconds between peer sync attempts")
	NodeCmd.PersistentFlags().UintP("block-time", "t", 10, "target seconds between blocks")
	NodeCmd.PersistentFlags().Int("max-block-txs", 100, "maximum transactions per block")
	NodeCmd.PersistentFlags().Int("difficulty-window", 10, "trailing blocks considered by difficulty retargeting")
	NodeCmd.PersistentFlags().Uint64("min-difficulty", 1, "minimum difficulty in leading zero bits")
	NodeCmd.PersistentFlags().Uint64("mining-ceiling", 0, "nonce attempts before a mining round restarts (0 = default)")
	NodeCmd.PersistentFlags().Bool("enable-metrics", false, "enable Prometheus metrics server")
	NodeCmd.PersistentFlags().String("metrics-addr", "0.0.0.0:2112", "address of the Prometheus metrics server")
	NodeCmd.PersistentFlags().Float64("min-loss-improvement", 0.001, "minimum loss delta a proposal must show")
	NodeCmd.PersistentFlags().Float64("max-gradient-norm", 10.0, "maximum RMS gradient magnitude")
	NodeCmd.PersistentFlags().Float64("min-samples-per-sec", 0.1, "minimum plausible training rate")
	NodeCmd.PersistentFlags().Float64("max-samples-per-sec", 100000, "maximum plausible training rate")
	NodeCmd.PersistentFlags().Float64("reward-amount", 10.0, "HYDRA minted per accepted proposal")
	NodeCmd.PersistentFlags().Int("quorum", 3, "accept votes required to resolve a proposal early")
	NodeCmd.PersistentFlags().Uint("vote-window", 30, "seconds a proposal accepts votes")

	if err := viper.BindPFlags(NodeCmd.PersistentFlags()); err != nil {
		slog.Error("Failed to bind NodeCmd flags", "error", err)
	}
}

// openStore opens the configured chain store. The returned *sql.DB view is
// nil for the in-memory store and feeds the SQL-backed metrics collector
// otherwise.
func openStore(ctx context.Context, cfg config.NodeConfig) (chain.Store, *sql.DB, error) {
	if cfg.PostgresConn == "" {
		slog.Warn("No PostgreSQL connection string given, chain state will not survive restarts")
		return store.NewMemory(), nil, nil
	}
	pg, err := store.NewPostgres(ctx, cfg.PostgresConn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open PostgreSQL store: %w", err)
	}
	return pg, stdlib.OpenDBFromPool(pg.Pool()), nil
}

func openWallet() (*wallet.Wallet, error) {
	password := os.Getenv("HYDRA_WALLET_PASSWORD")
	if password == "" {
		return nil, fmt.Errorf("HYDRA_WALLET_PASSWORD is not set")
	}
	w, err := wallet.Open(viper.GetString("wallet"), password)
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet: %w", err)
	}
	slog.Info("Wallet ready", "address", w.Address())
	return w, nil
}

// genesisDistribution reads the --genesis file when given, and otherwise
// mints the configured initial supply to this node's own wallet. The
// distribution is only consulted when the chain is empty.
func genesisDistribution(w *wallet.Wallet) map[string]float64 {
	if path := viper.GetString("genesis"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("Failed to read genesis file", "path", path, "error", err)
			return nil
		}
		var distribution map[string]float64
		if err := json.Unmarshal(data, &distribution); err != nil {
			slog.Error("Failed to parse genesis file", "path", path, "error", err)
			return nil
		}
		return distribution
	}
	return map[string]float64{w.Address(): viper.GetFloat64("genesis-supply")}
}

// handleInterrupt handles interrupt signals for graceful shutdown.
func handleInterrupt(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		slog.Info("Received interrupt signal, shutting down...")
		cancel()
	}()
}
