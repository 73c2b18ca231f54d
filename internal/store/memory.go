// Package store provides the durable backends for the ledger: an in-memory
// store for tests and ephemeral nodes, and a PostgreSQL store for real
// deployments. Both implement chain.Store.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/hydra-network/hydra/internal/chain"
)

// Memory keeps the chain and pending pool in process memory. Useful for
// tests and for nodes that rebuild from peers on every start.
type Memory struct {
	mu      sync.RWMutex
	blocks  []*chain.Block
	pending map[string]*chain.Transaction
}

func NewMemory() *Memory {
	return &Memory{pending: make(map[string]*chain.Transaction)}
}

func (m *Memory) PutBlock(_ context.Context, b *chain.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Height != uint64(len(m.blocks)) {
		return fmt.Errorf("store: block height %d out of sequence, want %d", b.Height, len(m.blocks))
	}
	m.blocks = append(m.blocks, b)
	return nil
}

func (m *Memory) LoadBlocks(_ context.Context) ([]*chain.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*chain.Block, len(m.blocks))
	copy(out, m.blocks)
	return out, nil
}

func (m *Memory) ReplaceChain(_ context.Context, blocks []*chain.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = make([]*chain.Block, len(blocks))
	copy(m.blocks, blocks)
	return nil
}

func (m *Memory) PutPendingTx(_ context.Context, tx *chain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[tx.ID] = tx
	return nil
}

func (m *Memory) DeletePendingTx(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

func (m *Memory) LoadPendingTxs(_ context.Context) ([]*chain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*chain.Transaction, 0, len(m.pending))
	for _, tx := range m.pending {
		out = append(out, tx)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
