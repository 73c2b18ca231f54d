package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/hydra-network/hydra/internal/chain"
)

// NodeConfig is the per-node runtime configuration, loaded from CLI flags,
// environment and config file via viper.
type NodeConfig struct {
	WalletFile       string
	PostgresConn     string
	MetricsAddr      string
	EnableMetrics    bool
	BlockTime        uint
	MaxBlockTxs      int
	DifficultyWindow int
	MinDifficulty    uint64
	MiningCeiling    uint64
	Miner            bool
	Peers            []string
	SyncInterval     uint
}

func (c NodeConfig) Validate() error {
	if c.BlockTime == 0 {
		return fmt.Errorf("block-time must be positive")
	}
	if c.MaxBlockTxs <= 0 {
		return fmt.Errorf("max-block-txs must be positive")
	}
	if c.DifficultyWindow < 2 {
		return fmt.Errorf("difficulty-window must be at least 2")
	}
	if c.MinDifficulty == 0 {
		return fmt.Errorf("min-difficulty must be at least 1")
	}
	if c.EnableMetrics && c.MetricsAddr == "" {
		return fmt.Errorf("metrics-addr is required when metrics are enabled")
	}
	return nil
}

func LoadNodeConfigFromCLI() NodeConfig {
	return NodeConfig{
		WalletFile:       viper.GetString("wallet"),
		PostgresConn:     viper.GetString("postgres"),
		MetricsAddr:      viper.GetString("metrics-addr"),
		EnableMetrics:    viper.GetBool("enable-metrics"),
		BlockTime:        viper.GetUint("block-time"),
		MaxBlockTxs:      viper.GetInt("max-block-txs"),
		DifficultyWindow: viper.GetInt("difficulty-window"),
		MinDifficulty:    viper.GetUint64("min-difficulty"),
		MiningCeiling:    viper.GetUint64("mining-ceiling"),
		Miner:            viper.GetBool("miner"),
		Peers:            viper.GetStringSlice("peers"),
		SyncInterval:     viper.GetUint("sync-interval"),
	}
}

// ChainParams maps the node configuration onto the consensus-critical
// ledger parameters.
func (c NodeConfig) ChainParams() chain.Params {
	p := chain.DefaultParams()
	p.TargetBlockInterval = time.Duration(c.BlockTime) * time.Second
	p.MaxBlockTransactions = c.MaxBlockTxs
	p.DifficultyWindow = c.DifficultyWindow
	p.MinDifficulty = c.MinDifficulty
	if c.MiningCeiling > 0 {
		p.MiningAttemptCeiling = c.MiningCeiling
	}
	return p
}
