package chain

import (
	"context"
	"fmt"
)

// Nonces are checked against the context in batches to keep cancellation
// responsive without a per-iteration branch on the hot path.
const cancelCheckInterval = 4096

// Mine searches for a nonce whose resulting block hash meets the given
// difficulty. It mutates the receiver's Nonce, Difficulty and Hash fields and
// is the only CPU-heavy operation in the package; callers run it on a block
// copy outside any ledger lock. The search aborts with the context error when
// cancelled (a peer block at the same height wins the race) and with
// ErrMiningExhausted when the attempt ceiling is hit, in which case the
// caller bumps the timestamp and retries since the timestamp is part of the
// hash preimage.
func (b *Block) Mine(ctx context.Context, difficulty uint64, attemptCeiling uint64) error {
	b.Difficulty = difficulty
	b.Nonce = 0

	for attempt := uint64(0); attempt < attemptCeiling; attempt++ {
		if attempt%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		hash := b.ComputeHash()
		if HashMeetsDifficulty(hash, difficulty) {
			b.Hash = hash
			return nil
		}
		b.Nonce++
	}

	return fmt.Errorf("%w: difficulty %d after %d attempts", ErrMiningExhausted, difficulty, attemptCeiling)
}
