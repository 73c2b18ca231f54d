package chain

import "math/big"

// nextDifficulty computes the difficulty for the block after the given
// chain. It compares the observed spacing of the trailing window against the
// target interval and moves by at most one bit per block, floored at the
// minimum. The result depends only on block timestamps, so independently
// operating nodes converge on the same difficulty without communication.
func nextDifficulty(blocks []*Block, current uint64, p Params) uint64 {
	if len(blocks) < 2 {
		return max(current, p.MinDifficulty)
	}

	window := p.DifficultyWindow
	if window < 2 {
		window = 2
	}
	if len(blocks) < window {
		window = len(blocks)
	}

	first := blocks[len(blocks)-window]
	last := blocks[len(blocks)-1]
	observed := last.Timestamp - first.Timestamp
	expected := int64(p.TargetBlockInterval.Seconds()) * int64(window-1)

	switch {
	case observed < expected:
		return current + 1
	case observed > expected && current > p.MinDifficulty:
		return current - 1
	default:
		return max(current, p.MinDifficulty)
	}
}

// TotalWork sums the work represented by each block's difficulty, counting
// 2^difficulty expected hash attempts per block. Used for the heaviest-chain
// tie break when two valid chains of equal length appear.
func TotalWork(blocks []*Block) *big.Int {
	total := new(big.Int)
	one := big.NewInt(1)
	for _, b := range blocks {
		work := new(big.Int).Lsh(one, uint(b.Difficulty))
		total.Add(total, work)
	}
	return total
}
