package chain

import "context"

// Store persists the chain and the pending pool. Blocks are keyed by height,
// pending transactions by identifier. Implementations live in
// internal/store; the ledger only relies on this contract.
type Store interface {
	// PutBlock durably appends one accepted block.
	PutBlock(ctx context.Context, b *Block) error
	// LoadBlocks returns all persisted blocks ordered by height.
	LoadBlocks(ctx context.Context) ([]*Block, error)
	// ReplaceChain atomically swaps the entire persisted block sequence,
	// used by chain import.
	ReplaceChain(ctx context.Context, blocks []*Block) error

	PutPendingTx(ctx context.Context, tx *Transaction) error
	DeletePendingTx(ctx context.Context, id string) error
	LoadPendingTxs(ctx context.Context) ([]*Transaction, error)

	Close() error
}
