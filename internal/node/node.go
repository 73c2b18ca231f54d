// Package node ties the ledger, wallet and consensus engine together into a
// running service: it mines blocks from the pending pool, ingests blocks,
// transactions, proposals and votes delivered by the transport layer, and
// publishes lifecycle events. The transport itself (peer discovery,
// gossip delivery) lives outside this module; this package only defines the
// ingress methods it calls and the Broadcaster egress it implements.
package node

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hydra-network/hydra/internal/chain"
	"github.com/hydra-network/hydra/internal/config"
	"github.com/hydra-network/hydra/internal/consensus"
	"github.com/hydra-network/hydra/internal/wallet"
)

// Broadcaster is the egress side of the transport layer: validated blocks,
// transactions and votes flow out through it. A nil broadcaster is valid
// for single-node operation.
type Broadcaster interface {
	BroadcastBlock(b *chain.Block)
	BroadcastTransaction(tx *chain.Transaction)
	BroadcastVote(proposalID, voter string, accept bool)
}

// Node is one HYDRA network participant.
type Node struct {
	cfg       config.NodeConfig
	params    chain.Params
	ledger    *chain.Ledger
	wallet    *wallet.Wallet
	engine    *consensus.Engine
	bus       *Bus
	broadcast Broadcaster

	mu           sync.Mutex
	cancelMining context.CancelFunc
	modelVersion string
}

func New(cfg config.NodeConfig, ledger *chain.Ledger, w *wallet.Wallet, engine *consensus.Engine, broadcast Broadcaster) *Node {
	return &Node{
		cfg:          cfg,
		params:       cfg.ChainParams(),
		ledger:       ledger,
		wallet:       w,
		engine:       engine,
		bus:          NewBus(),
		broadcast:    broadcast,
		modelVersion: "v0",
	}
}

// Bus exposes the node's event stream.
func (n *Node) Bus() *Bus {
	return n.bus
}

// Run drives the node loops until the context is cancelled.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if n.cfg.Miner {
		g.Go(func() error { return n.miningLoop(ctx) })
	}
	g.Go(func() error { return n.consensusLoop(ctx) })
	if len(n.cfg.Peers) > 0 {
		syncer := NewSyncer(n.ledger, n.bus, n.cfg.Peers, time.Duration(n.cfg.SyncInterval)*time.Second)
		g.Go(func() error { return syncer.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// miningLoop assembles and mines a block whenever transactions are waiting.
// Mining runs on a block copy outside the ledger lock and is cancelled when
// a peer block at the same height arrives first.
func (n *Node) miningLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.params.TargetBlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if len(n.ledger.PendingTransactions()) == 0 {
				continue
			}
			if err := n.mineOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("Mining attempt failed", "error", err)
			}
		}
	}
}

// mineOnce mines exactly one block at the current tip, retrying with a fresh
// timestamp when the nonce search exhausts its ceiling. Losing the race to a
// peer block surfaces as context.Canceled and is not an error.
func (n *Node) mineOnce(ctx context.Context) error {
	mctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n.mu.Lock()
	n.cancelMining = cancel
	modelVersion := n.modelVersion
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.cancelMining = nil
		n.mu.Unlock()
	}()

	for {
		block, err := n.ledger.CreateBlock(n.wallet.Address(), modelVersion, time.Now().Unix())
		if err != nil {
			return err
		}
		if len(block.Transactions) == 0 {
			return nil
		}

		err = block.Mine(mctx, n.ledger.Difficulty(), n.params.MiningAttemptCeiling)
		if errors.Is(err, chain.ErrMiningExhausted) {
			// Timestamp is part of the hash preimage; refresh and retry.
			continue
		}
		if err != nil {
			return err
		}

		if err := n.ledger.AddBlock(ctx, block); err != nil {
			// A peer block probably landed first; not fatal.
			slog.Debug("Mined block rejected", "height", block.Height, "error", err)
			return nil
		}

		n.publishBlock(block)
		if n.broadcast != nil {
			n.broadcast.BroadcastBlock(block)
		}
		slog.Info("Mined block", "height", block.Height, "txs", len(block.Transactions), "hash", block.Hash[:16])
		return nil
	}
}

// consensusLoop resolves expired proposals and forwards resolutions to the
// event bus.
func (n *Node) consensusLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.engine.ResolveExpired(ctx)
		case res := <-n.engine.Resolutions():
			n.bus.Publish(Event{
				Type:       EventProposalResolved,
				ProposalID: res.ProposalID,
				Address:    res.Proposer,
			})
			if res.Rewarded && res.Proposer == n.wallet.Address() {
				n.bus.Publish(Event{
					Type:    EventTokensEarned,
					Amount:  res.RewardAmount,
					Address: res.Proposer,
				})
			}
		}
	}
}

// HandlePeerBlock ingests a block delivered by the transport. Accepting it
// aborts any in-flight local mining attempt at the same height: first valid
// block at a height wins.
func (n *Node) HandlePeerBlock(ctx context.Context, b *chain.Block) error {
	if err := n.ledger.AddBlock(ctx, b); err != nil {
		return err
	}

	n.mu.Lock()
	if n.cancelMining != nil {
		n.cancelMining()
	}
	n.mu.Unlock()

	n.publishBlock(b)
	return nil
}

// HandlePeerTransaction ingests a gossiped transaction into the pending pool.
func (n *Node) HandlePeerTransaction(ctx context.Context, tx *chain.Transaction) error {
	return n.ledger.AddTransaction(ctx, tx)
}

// HandleProposal validates a gossiped training proposal and casts this
// node's vote, returning the vote so the transport can gossip it back.
func (n *Node) HandleProposal(ctx context.Context, p *consensus.Proposal) (bool, error) {
	accept, err := n.engine.Submit(ctx, p, n.wallet.Address())
	if err != nil {
		return false, err
	}
	if n.broadcast != nil {
		n.broadcast.BroadcastVote(p.ID, n.wallet.Address(), accept)
	}
	return accept, nil
}

// HandlePeerVote ingests a peer's vote on a proposal.
func (n *Node) HandlePeerVote(ctx context.Context, proposalID, voter string, accept bool) error {
	return n.engine.Vote(ctx, proposalID, voter, accept)
}

// SendTokens creates, signs and submits a TRANSFER from this node's wallet.
func (n *Node) SendTokens(ctx context.Context, recipient string, amount float64) (string, error) {
	tx, err := n.wallet.NewTransaction(chain.TxTransfer, recipient, amount, "")
	if err != nil {
		return "", err
	}
	if err := n.ledger.AddTransaction(ctx, tx); err != nil {
		return "", err
	}
	if n.broadcast != nil {
		n.broadcast.BroadcastTransaction(tx)
	}
	return tx.ID, nil
}

// SetModelVersion records the current global model version and announces it.
func (n *Node) SetModelVersion(version string) {
	n.mu.Lock()
	n.modelVersion = version
	n.mu.Unlock()
	n.bus.Publish(Event{Type: EventModelUpdated, ModelVersion: version})
}

func (n *Node) publishBlock(b *chain.Block) {
	n.bus.Publish(Event{Type: EventNewBlock, Block: b, Height: b.Height})
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		if tx.Type == chain.TxReward && tx.To == n.wallet.Address() {
			n.bus.Publish(Event{Type: EventTokensEarned, Amount: tx.Amount, Address: tx.To})
		}
	}
}
