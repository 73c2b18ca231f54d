package chain

import "time"

// Params are the consensus-critical policy knobs of the ledger. Every node
// on a network must run the same values or difficulty retargeting and block
// acceptance diverge.
type Params struct {
	// TargetBlockInterval is the desired time between blocks.
	TargetBlockInterval time.Duration
	// DifficultyWindow is the number of trailing blocks the retarget
	// computation looks at.
	DifficultyWindow int
	// MinDifficulty is the retarget floor, in leading zero bits.
	MinDifficulty uint64
	// MaxBlockTransactions caps how many pending transactions a single
	// block packages.
	MaxBlockTransactions int
	// MiningAttemptCeiling bounds a single nonce search before the miner
	// must refresh the timestamp and retry.
	MiningAttemptCeiling uint64
}

// DefaultParams returns the network defaults: one block every ten seconds,
// retargeting over the last ten blocks.
func DefaultParams() Params {
	return Params{
		TargetBlockInterval:  10 * time.Second,
		DifficultyWindow:     10,
		MinDifficulty:        1,
		MaxBlockTransactions: 100,
		MiningAttemptCeiling: 1 << 26,
	}
}
