package chain

import (
	"context"
	"fmt"
	"sort"
)

// NewGenesisBlock builds and mines the height-0 block from an address to
// initial-amount distribution. Everything about it is deterministic: the
// distribution is serialized in sorted address order and all timestamps are
// zero, so every node handed the same distribution produces a byte-identical
// genesis block and chain root.
func NewGenesisBlock(ctx context.Context, distribution map[string]float64, p Params) (*Block, error) {
	if len(distribution) == 0 {
		return nil, fmt.Errorf("%w: empty genesis distribution", ErrMalformedData)
	}

	addresses := make([]string, 0, len(distribution))
	for addr := range distribution {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	txs := make([]Transaction, 0, len(addresses))
	for _, addr := range addresses {
		amount := distribution[addr]
		if amount < 0 {
			return nil, fmt.Errorf("%w: genesis amount %g for %s", ErrInvalidAmount, amount, addr)
		}
		tx := Transaction{
			Type:      TxGenesis,
			To:        addr,
			Amount:    amount,
			Timestamp: 0,
			Metadata:  "genesis distribution",
		}
		tx.ID = tx.ComputeID()
		txs = append(txs, tx)
	}

	block := &Block{
		Height:       0,
		PreviousHash: "",
		MerkleRoot:   ComputeMerkleRoot(txs),
		Timestamp:    0,
		Transactions: txs,
		ModelVersion: "genesis",
	}
	if err := block.Mine(ctx, p.MinDifficulty, p.MiningAttemptCeiling); err != nil {
		return nil, err
	}
	return block, nil
}
