package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
)

// Ledger is the authoritative, append-only sequence of verified blocks plus
// the pending transaction pool and the derived balance map. The balance map
// is a cache: it is always exactly the replay of every transaction in every
// accepted block from genesis.
//
// All mutating operations serialize under one lock so balance derivation is
// computed against a consistent snapshot; concurrent readers observe either
// the state before or after a mutation, never a partial one.
type Ledger struct {
	mu     sync.RWMutex
	params Params
	store  Store

	blocks     []*Block
	pending    map[string]*Transaction
	balances   map[string]float64
	onChain    map[string]struct{}
	difficulty uint64
}

// NewLedger creates an empty ledger backed by the given store. Call
// Initialize before use.
func NewLedger(store Store, params Params) *Ledger {
	return &Ledger{
		params:     params,
		store:      store,
		pending:    make(map[string]*Transaction),
		balances:   make(map[string]float64),
		onChain:    make(map[string]struct{}),
		difficulty: params.MinDifficulty,
	}
}

// Initialize loads persisted state, or constructs and accepts a genesis
// block from the supplied distribution when the store is empty. It is
// idempotent: a ledger that already holds blocks ignores the distribution.
func (l *Ledger) Initialize(ctx context.Context, distribution map[string]float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.blocks) > 0 {
		return nil
	}

	blocks, err := l.store.LoadBlocks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load chain: %w", err)
	}

	if len(blocks) == 0 {
		genesis, err := NewGenesisBlock(ctx, distribution, l.params)
		if err != nil {
			return err
		}
		if err := l.store.PutBlock(ctx, genesis); err != nil {
			return fmt.Errorf("failed to persist genesis block: %w", err)
		}
		blocks = []*Block{genesis}
		slog.Info("Created genesis block", "hash", genesis.Hash, "accounts", len(genesis.Transactions))
	}

	balances, ids, err := VerifyBlocks(blocks, l.params, nil)
	if err != nil {
		return fmt.Errorf("persisted chain failed verification: %w", err)
	}

	pendingTxs, err := l.store.LoadPendingTxs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending pool: %w", err)
	}
	pending := make(map[string]*Transaction, len(pendingTxs))
	for _, tx := range pendingTxs {
		if _, dup := ids[tx.ID]; dup {
			continue // already included while we were offline
		}
		pending[tx.ID] = tx
	}

	l.blocks = blocks
	l.balances = balances
	l.onChain = ids
	l.pending = pending
	l.difficulty = computeDifficulty(blocks, l.params)

	slog.Info("Ledger initialized", "height", len(blocks)-1, "pending", len(pending), "difficulty", l.difficulty)
	return nil
}

// AddBlock verifies and appends a block. It accepts iff the block verifies
// in isolation, extends the tip by exactly one height, links to the tip's
// hash, meets the current required difficulty, never overdrafts a sender
// when its transactions are applied strictly in block order, and replays no
// transaction identifier already on chain. Rejection is atomic: no partial
// balance mutation is observable.
func (l *Ledger) AddBlock(ctx context.Context, b *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.blocks) == 0 {
		return fmt.Errorf("%w: ledger not initialized", ErrChainLinkage)
	}

	if err := b.Verify(); err != nil {
		return err
	}
	tip := l.blocks[len(l.blocks)-1]
	if b.Height != tip.Height+1 {
		return fmt.Errorf("%w: got height %d, want %d", ErrChainLinkage, b.Height, tip.Height+1)
	}
	if b.PreviousHash != tip.Hash {
		return fmt.Errorf("%w: previous hash does not match tip", ErrChainLinkage)
	}
	if b.Difficulty < l.difficulty {
		return fmt.Errorf("%w: block difficulty %d below required %d", ErrProofOfWork, b.Difficulty, l.difficulty)
	}

	staged := copyBalances(l.balances)
	seen := make(map[string]struct{}, len(b.Transactions))
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		if _, dup := l.onChain[tx.ID]; dup {
			return fmt.Errorf("%w: %s already on chain", ErrDuplicateTransaction, tx.ID)
		}
		if _, dup := seen[tx.ID]; dup {
			return fmt.Errorf("%w: %s appears twice in block", ErrDuplicateTransaction, tx.ID)
		}
		seen[tx.ID] = struct{}{}
		if err := applyTransaction(staged, tx, b.Height); err != nil {
			return err
		}
	}

	// Persist before mutating memory so a storage failure leaves the
	// in-memory state untouched.
	if err := l.store.PutBlock(ctx, b); err != nil {
		return fmt.Errorf("failed to persist block %d: %w", b.Height, err)
	}

	l.blocks = append(l.blocks, b)
	l.balances = staged
	for id := range seen {
		l.onChain[id] = struct{}{}
		if _, ok := l.pending[id]; ok {
			delete(l.pending, id)
			if err := l.store.DeletePendingTx(ctx, id); err != nil {
				slog.Warn("Failed to prune pending transaction", "id", id, "error", err)
			}
		}
	}
	l.difficulty = nextDifficulty(l.blocks, l.difficulty, l.params)

	slog.Debug("Accepted block", "height", b.Height, "txs", len(b.Transactions), "difficulty", l.difficulty)
	return nil
}

// AddTransaction validates a transaction against the currently known
// balances and places it in the pending pool. The balance check is not a
// binding reservation; it is re-checked in block order at acceptance time.
func (l *Ledger) AddTransaction(ctx context.Context, tx *Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tx.Type == TxGenesis {
		return fmt.Errorf("%w: genesis transactions are only valid at height 0", ErrMalformedData)
	}
	if tx.Amount < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidAmount, tx.Amount)
	}
	if err := tx.VerifySignature(); err != nil {
		return err
	}
	if _, dup := l.pending[tx.ID]; dup {
		return fmt.Errorf("%w: %s already pending", ErrDuplicateTransaction, tx.ID)
	}
	if _, dup := l.onChain[tx.ID]; dup {
		return fmt.Errorf("%w: %s already on chain", ErrDuplicateTransaction, tx.ID)
	}
	if tx.Type.RequiresSignature() && l.balances[tx.From] < tx.Amount {
		return fmt.Errorf("%w: %s has %g, needs %g", ErrInsufficientBalance, tx.From, l.balances[tx.From], tx.Amount)
	}

	if err := l.store.PutPendingTx(ctx, tx); err != nil {
		return fmt.Errorf("failed to persist pending transaction: %w", err)
	}
	l.pending[tx.ID] = tx
	return nil
}

// CreateBlock packages pending transactions, bounded by
// Params.MaxBlockTransactions and ordered deterministically, into an unmined
// block at the next height. The caller mines it off the ledger lock.
func (l *Ledger) CreateBlock(minerAddress, modelVersion string, timestamp int64) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.blocks) == 0 {
		return nil, fmt.Errorf("%w: ledger not initialized", ErrChainLinkage)
	}
	tip := l.blocks[len(l.blocks)-1]

	txs := make([]Transaction, 0, len(l.pending))
	for _, tx := range l.pending {
		txs = append(txs, *tx)
	}
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Timestamp != txs[j].Timestamp {
			return txs[i].Timestamp < txs[j].Timestamp
		}
		return txs[i].ID < txs[j].ID
	})
	if len(txs) > l.params.MaxBlockTransactions {
		txs = txs[:l.params.MaxBlockTransactions]
	}

	return &Block{
		Height:       tip.Height + 1,
		PreviousHash: tip.Hash,
		MerkleRoot:   ComputeMerkleRoot(txs),
		Timestamp:    timestamp,
		Transactions: txs,
		Miner:        minerAddress,
		Difficulty:   l.difficulty,
		ModelVersion: modelVersion,
	}, nil
}

// VerifyChain walks the entire chain from genesis, re-deriving balances from
// scratch and checking every block and link invariant. Used for integrity
// audits and after importing a chain from an untrusted source.
func (l *Ledger) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, _, err := VerifyBlocks(l.blocks, l.params, nil)
	return err
}

// VerifyBlocks validates a standalone block sequence: genesis shape, height
// contiguity, hash linkage, proof of work against the replayed difficulty
// schedule, merkle commitments, signatures, ordered balance application and
// replay protection. Replaying the retarget schedule matters: a block only
// has to meet its own claimed difficulty to hash-verify, so without the
// schedule check a chain of floor-difficulty blocks at burst spacing would
// pass here even though block-by-block acceptance rejects it. It returns the
// derived balances and the set of transaction identifiers on success. The
// progress callback, when non-nil, is invoked once per verified block.
func VerifyBlocks(blocks []*Block, p Params, progress func()) (map[string]float64, map[string]struct{}, error) {
	if len(blocks) == 0 {
		return nil, nil, fmt.Errorf("%w: empty chain", ErrChainLinkage)
	}
	if blocks[0].Height != 0 || blocks[0].PreviousHash != "" {
		return nil, nil, fmt.Errorf("%w: malformed genesis block", ErrChainLinkage)
	}

	balances := make(map[string]float64)
	ids := make(map[string]struct{})
	required := p.MinDifficulty

	for i, b := range blocks {
		if b.Height != uint64(i) {
			return nil, nil, fmt.Errorf("%w: block %d carries height %d", ErrChainLinkage, i, b.Height)
		}
		if i > 0 && b.PreviousHash != blocks[i-1].Hash {
			return nil, nil, fmt.Errorf("%w: broken link at height %d", ErrChainLinkage, i)
		}
		if b.Difficulty < required {
			return nil, nil, fmt.Errorf("%w: block %d difficulty %d below scheduled %d", ErrProofOfWork, i, b.Difficulty, required)
		}
		if err := b.Verify(); err != nil {
			return nil, nil, err
		}
		for j := range b.Transactions {
			tx := &b.Transactions[j]
			if _, dup := ids[tx.ID]; dup {
				return nil, nil, fmt.Errorf("%w: %s replayed at height %d", ErrDuplicateTransaction, tx.ID, i)
			}
			ids[tx.ID] = struct{}{}
			if err := applyTransaction(balances, tx, b.Height); err != nil {
				return nil, nil, fmt.Errorf("height %d: %w", i, err)
			}
		}
		required = nextDifficulty(blocks[:i+1], required, p)
		if progress != nil {
			progress()
		}
	}

	return balances, ids, nil
}

// applyTransaction applies one balance delta, enforcing no overdraft and
// conservation: senders are debited exactly what recipients are credited,
// and supply only grows through REWARD and GENESIS.
func applyTransaction(balances map[string]float64, tx *Transaction, height uint64) error {
	if tx.Amount < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidAmount, tx.Amount)
	}
	switch tx.Type {
	case TxGenesis:
		if height != 0 {
			return fmt.Errorf("%w: genesis transaction above height 0", ErrMalformedData)
		}
		balances[tx.To] += tx.Amount
	case TxReward:
		balances[tx.To] += tx.Amount
	case TxTransfer, TxQuery:
		if balances[tx.From] < tx.Amount {
			return fmt.Errorf("%w: %s has %g, needs %g", ErrInsufficientBalance, tx.From, balances[tx.From], tx.Amount)
		}
		balances[tx.From] -= tx.Amount
		balances[tx.To] += tx.Amount
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrMalformedData, tx.Type)
	}
	return nil
}

// computeDifficulty replays the retarget schedule over a chain. Determinism
// here is what lets a restarted or freshly synced node agree on the next
// required difficulty without talking to anyone.
func computeDifficulty(blocks []*Block, p Params) uint64 {
	d := p.MinDifficulty
	for i := 1; i <= len(blocks); i++ {
		d = nextDifficulty(blocks[:i], d, p)
	}
	return d
}

func copyBalances(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// copyBlock detaches a block from accepted-chain state. The transaction
// slice is the only mutable reference a Block carries, so duplicating it is
// enough to keep callers from mutating the chain outside the lock.
func copyBlock(b *Block) *Block {
	cb := *b
	cb.Transactions = append([]Transaction(nil), b.Transactions...)
	return &cb
}

func copyTransaction(tx *Transaction) *Transaction {
	ct := *tx
	return &ct
}

// Params returns the consensus parameters the ledger was built with.
func (l *Ledger) Params() Params {
	return l.params
}

// GetBalance returns the current balance of an address.
func (l *Ledger) GetBalance(address string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[address]
}

// AllBalances returns a copy of the full address to balance map.
func (l *Ledger) AllBalances() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyBalances(l.balances)
}

// TotalSupply returns the sum of all balances.
func (l *Ledger) TotalSupply() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, v := range l.balances {
		total += v
	}
	return total
}

// Height returns the height of the chain tip.
func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.blocks) == 0 {
		return 0
	}
	return l.blocks[len(l.blocks)-1].Height
}

// Difficulty returns the difficulty required of the next block.
func (l *Ledger) Difficulty() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.difficulty
}

// LatestBlock returns a copy of the chain tip, or nil before initialization.
func (l *Ledger) LatestBlock() *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.blocks) == 0 {
		return nil
	}
	return copyBlock(l.blocks[len(l.blocks)-1])
}

// GetBlock returns a copy of the block at the given height, or nil.
func (l *Ledger) GetBlock(height uint64) *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if height >= uint64(len(l.blocks)) {
		return nil
	}
	return copyBlock(l.blocks[height])
}

// GetBlockByHash returns a copy of the block with the given hash, or nil.
func (l *Ledger) GetBlockByHash(hash string) *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.blocks {
		if b.Hash == hash {
			return copyBlock(b)
		}
	}
	return nil
}

// GetBlocks returns copies of the blocks in [start, end], clipped to the
// chain. Used by the peer catch-up sync primitive.
func (l *Ledger) GetBlocks(start, end uint64) []*Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if start >= uint64(len(l.blocks)) || end < start {
		return nil
	}
	if end >= uint64(len(l.blocks)) {
		end = uint64(len(l.blocks)) - 1
	}
	out := make([]*Block, 0, end-start+1)
	for _, b := range l.blocks[start : end+1] {
		out = append(out, copyBlock(b))
	}
	return out
}

// PendingTransactions returns a snapshot of the pending pool in
// deterministic order.
func (l *Ledger) PendingTransactions() []*Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Transaction, 0, len(l.pending))
	for _, tx := range l.pending {
		out = append(out, copyTransaction(tx))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetTransaction looks a transaction up by identifier, searching the pending
// pool first and then the chain. The returned transaction is a copy.
func (l *Ledger) GetTransaction(id string) *Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if tx, ok := l.pending[id]; ok {
		return copyTransaction(tx)
	}
	for _, b := range l.blocks {
		for i := range b.Transactions {
			if b.Transactions[i].ID == id {
				return copyTransaction(&b.Transactions[i])
			}
		}
	}
	return nil
}

// AddressTransactions returns copies of the on-chain transactions touching an
// address, newest first, bounded by limit when limit > 0.
func (l *Ledger) AddressTransactions(address string, limit int) []*Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Transaction
	for i := len(l.blocks) - 1; i >= 0; i-- {
		b := l.blocks[i]
		for j := range b.Transactions {
			tx := &b.Transactions[j]
			if tx.From == address || tx.To == address {
				out = append(out, copyTransaction(tx))
				if limit > 0 && len(out) == limit {
					return out
				}
			}
		}
	}
	return out
}

// TotalWork returns the accumulated work of the chain, for the
// heaviest-chain tie break during sync.
func (l *Ledger) TotalWork() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return TotalWork(l.blocks)
}

// chainExport is the self-describing byte stream exchanged between peers and
// written by the export command.
type chainExport struct {
	Format  string   `json:"format"`
	Version int      `json:"version"`
	Blocks  []*Block `json:"blocks"`
}

const (
	exportFormat  = "hydra-chain"
	exportVersion = 1
)

// Export serializes the full block sequence to a single self-describing
// byte stream.
func (l *Ledger) Export() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(chainExport{
		Format:  exportFormat,
		Version: exportVersion,
		Blocks:  l.blocks,
	})
}

// Import fully replaces local state with the given chain, but only if the
// imported chain passes verification in isolation. On any failure the
// pre-import state is untouched. Pending transactions included in the new
// chain are pruned; the rest survive. The progress callback, when non-nil,
// is invoked once per verified block.
func (l *Ledger) Import(ctx context.Context, data []byte, progress func()) error {
	var payload chainExport
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if payload.Format != exportFormat || payload.Version != exportVersion {
		return fmt.Errorf("%w: unrecognized chain export format", ErrMalformedData)
	}

	balances, ids, err := VerifyBlocks(payload.Blocks, l.params, progress)
	if err != nil {
		return fmt.Errorf("imported chain failed verification: %w", err)
	}

	// Import may replace the whole state, so it holds the exclusive lock
	// for its duration.
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.ReplaceChain(ctx, payload.Blocks); err != nil {
		return fmt.Errorf("failed to persist imported chain: %w", err)
	}

	l.blocks = payload.Blocks
	l.balances = balances
	l.onChain = ids
	l.difficulty = computeDifficulty(payload.Blocks, l.params)
	for id := range l.pending {
		if _, included := ids[id]; included {
			delete(l.pending, id)
			if err := l.store.DeletePendingTx(ctx, id); err != nil {
				slog.Warn("Failed to prune pending transaction", "id", id, "error", err)
			}
		}
	}

	slog.Info("Imported chain", "height", len(payload.Blocks)-1, "difficulty", l.difficulty)
	return nil
}

// ImportIfBetter adopts the candidate chain only when it is longer than the
// local one, or of equal length with more accumulated work. It reports
// whether the candidate was adopted. The candidate is fully verified in
// isolation first; an invalid candidate never touches local state.
func (l *Ledger) ImportIfBetter(ctx context.Context, data []byte, progress func()) (bool, error) {
	var payload chainExport
	if err := json.Unmarshal(data, &payload); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if payload.Format != exportFormat || payload.Version != exportVersion {
		return false, fmt.Errorf("%w: unrecognized chain export format", ErrMalformedData)
	}

	l.mu.RLock()
	localLen := len(l.blocks)
	localWork := TotalWork(l.blocks)
	l.mu.RUnlock()

	candidateLen := len(payload.Blocks)
	if candidateLen < localLen {
		return false, nil
	}
	if candidateLen == localLen && TotalWork(payload.Blocks).Cmp(localWork) <= 0 {
		return false, nil
	}

	if err := l.Import(ctx, data, progress); err != nil {
		return false, err
	}
	return true, nil
}
