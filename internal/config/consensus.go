package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/hydra-network/hydra/internal/consensus"
)

// ConsensusConfig carries the proposal-validation policy parameters. These
// are policy, not hidden constants: all nodes of a network must agree on
// them for validation verdicts to be reproducible.
type ConsensusConfig struct {
	MinLossImprovement float64
	MaxGradientNorm    float64
	MinSamplesPerSec   float64
	MaxSamplesPerSec   float64
	RewardAmount       float64
	Quorum             int
	VoteWindow         uint
}

func (c ConsensusConfig) Validate() error {
	if c.Quorum <= 0 {
		return fmt.Errorf("quorum must be positive")
	}
	if c.RewardAmount < 0 {
		return fmt.Errorf("reward-amount must be non-negative")
	}
	if c.MinSamplesPerSec <= 0 || c.MaxSamplesPerSec <= c.MinSamplesPerSec {
		return fmt.Errorf("samples-per-second bounds must satisfy 0 < min < max")
	}
	if c.VoteWindow == 0 {
		return fmt.Errorf("vote-window must be positive")
	}
	return nil
}

func LoadConsensusConfigFromCLI() ConsensusConfig {
	return ConsensusConfig{
		MinLossImprovement: viper.GetFloat64("min-loss-improvement"),
		MaxGradientNorm:    viper.GetFloat64("max-gradient-norm"),
		MinSamplesPerSec:   viper.GetFloat64("min-samples-per-sec"),
		MaxSamplesPerSec:   viper.GetFloat64("max-samples-per-sec"),
		RewardAmount:       viper.GetFloat64("reward-amount"),
		Quorum:             viper.GetInt("quorum"),
		VoteWindow:         viper.GetUint("vote-window"),
	}
}

func (c ConsensusConfig) Policy() consensus.Policy {
	return consensus.Policy{
		MinLossImprovement:  c.MinLossImprovement,
		MaxGradientNorm:     c.MaxGradientNorm,
		MinSamplesPerSecond: c.MinSamplesPerSec,
		MaxSamplesPerSecond: c.MaxSamplesPerSec,
		RewardAmount:        c.RewardAmount,
		Quorum:              c.Quorum,
		VoteWindow:          time.Duration(c.VoteWindow) * time.Second,
	}
}
