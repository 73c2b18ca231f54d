package node_test

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydra-network/hydra/internal/chain"
	"github.com/hydra-network/hydra/internal/config"
	"github.com/hydra-network/hydra/internal/consensus"
	"github.com/hydra-network/hydra/internal/node"
	"github.com/hydra-network/hydra/internal/store"
	"github.com/hydra-network/hydra/internal/wallet"
)

const testMiningCeiling = 1 << 22

func testNodeConfig() config.NodeConfig {
	return config.NodeConfig{
		BlockTime:        1,
		MaxBlockTxs:      100,
		DifficultyWindow: 10,
		MinDifficulty:    1,
		MiningCeiling:    testMiningCeiling,
		Miner:            true,
	}
}

// recordingBroadcaster captures outbound gossip for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	blocks []*chain.Block
	txs    []*chain.Transaction
	votes  []string
}

func (r *recordingBroadcaster) BroadcastBlock(b *chain.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, b)
}

func (r *recordingBroadcaster) BroadcastTransaction(tx *chain.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
}

func (r *recordingBroadcaster) BroadcastVote(proposalID, voter string, accept bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.votes = append(r.votes, proposalID)
}

func newTestNode(t *testing.T, distribution map[string]float64, broadcast node.Broadcaster) (*node.Node, *chain.Ledger, *wallet.Wallet) {
	t.Helper()

	w, err := wallet.Open(filepath.Join(t.TempDir(), "wallet.json"), "test-password")
	require.NoError(t, err)

	cfg := testNodeConfig()
	if distribution == nil {
		distribution = map[string]float64{w.Address(): 100}
	}
	ledger := chain.NewLedger(store.NewMemory(), cfg.ChainParams())
	require.NoError(t, ledger.Initialize(context.Background(), distribution))

	engine := consensus.NewEngine(ledger, consensus.DefaultPolicy())
	return node.New(cfg, ledger, w, engine, broadcast), ledger, w
}

func waitEvent(t *testing.T, events <-chan node.Event, typ node.EventType) node.Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

// mineExternalBlock produces a valid next block for the given ledger's chain
// without going through a node, standing in for a remote peer's miner.
func mineExternalBlock(t *testing.T, ledger *chain.Ledger, txs []chain.Transaction, miner string) *chain.Block {
	t.Helper()
	tip := ledger.LatestBlock()
	b := &chain.Block{
		Height:       tip.Height + 1,
		PreviousHash: tip.Hash,
		MerkleRoot:   chain.ComputeMerkleRoot(txs),
		Timestamp:    time.Now().Unix(),
		Transactions: txs,
		Miner:        miner,
	}
	require.NoError(t, b.Mine(context.Background(), ledger.Difficulty(), testMiningCeiling))
	return b
}

func TestHandlePeerBlock(t *testing.T) {
	n, ledger, w := newTestNode(t, nil, nil)
	events := n.Bus().Subscribe()

	reward, err := chain.NewRewardTransaction(w.Address(), 10, "training reward")
	require.NoError(t, err)
	b := mineExternalBlock(t, ledger, []chain.Transaction{*reward}, "peer-miner")

	require.NoError(t, n.HandlePeerBlock(context.Background(), b))
	assert.Equal(t, uint64(1), ledger.Height())

	e := waitEvent(t, events, node.EventNewBlock)
	assert.Equal(t, uint64(1), e.Height)

	// The block minted tokens to this node, which surfaces as its own event.
	earned := waitEvent(t, events, node.EventTokensEarned)
	assert.Equal(t, 10.0, earned.Amount)
	assert.Equal(t, w.Address(), earned.Address)

	// Replaying the same block must fail without side effects.
	assert.Error(t, n.HandlePeerBlock(context.Background(), b))
	assert.Equal(t, uint64(1), ledger.Height())
}

func TestHandlePeerTransaction(t *testing.T) {
	n, ledger, w := newTestNode(t, nil, nil)

	tx, err := w.NewTransaction(chain.TxTransfer, "recipient", 5, "")
	require.NoError(t, err)
	require.NoError(t, n.HandlePeerTransaction(context.Background(), tx))
	assert.Len(t, ledger.PendingTransactions(), 1)

	overdraft, err := w.NewTransaction(chain.TxTransfer, "recipient", 9999, "")
	require.NoError(t, err)
	assert.ErrorIs(t, n.HandlePeerTransaction(context.Background(), overdraft), chain.ErrInsufficientBalance)
}

func TestHandleProposal(t *testing.T) {
	broadcast := &recordingBroadcaster{}
	n, _, _ := newTestNode(t, nil, broadcast)

	gradient := make([]byte, 16)
	for i, v := range []float32{0.1, -0.2, 0.05, 0.3} {
		binary.LittleEndian.PutUint32(gradient[i*4:], math.Float32bits(v))
	}
	sum := sha256.Sum256(gradient)
	p := &consensus.Proposal{
		ID:             "prop-1",
		Proposer:       "proposer-address",
		ModelVersion:   "v2",
		GradientHash:   hex.EncodeToString(sum[:]),
		Gradient:       gradient,
		LossBefore:     0.9,
		LossAfter:      0.85,
		SamplesTrained: 1000,
		TrainTimeMs:    10000,
		VotingDeadline: time.Now().Add(20 * time.Second).Unix(),
	}

	accept, err := n.HandleProposal(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, accept)

	broadcast.mu.Lock()
	defer broadcast.mu.Unlock()
	assert.Equal(t, []string{"prop-1"}, broadcast.votes)
}

func TestSendTokens(t *testing.T) {
	broadcast := &recordingBroadcaster{}
	n, ledger, _ := newTestNode(t, nil, broadcast)

	id, err := n.SendTokens(context.Background(), "recipient", 25)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pending := ledger.PendingTransactions()
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	broadcast.mu.Lock()
	assert.Len(t, broadcast.txs, 1)
	broadcast.mu.Unlock()

	_, err = n.SendTokens(context.Background(), "recipient", 9999)
	assert.ErrorIs(t, err, chain.ErrInsufficientBalance)
}

func TestSetModelVersion(t *testing.T) {
	n, _, _ := newTestNode(t, nil, nil)
	events := n.Bus().Subscribe()

	n.SetModelVersion("v7")
	e := waitEvent(t, events, node.EventModelUpdated)
	assert.Equal(t, "v7", e.ModelVersion)
}

func TestRunMinesPendingTransactions(t *testing.T) {
	broadcast := &recordingBroadcaster{}
	n, ledger, w := newTestNode(t, nil, broadcast)
	events := n.Bus().Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	_, err := n.SendTokens(ctx, "recipient", 25)
	require.NoError(t, err)

	e := waitEvent(t, events, node.EventNewBlock)
	assert.Equal(t, uint64(1), e.Height)
	assert.Equal(t, w.Address(), e.Block.Miner)
	assert.Equal(t, 75.0, ledger.GetBalance(w.Address()))
	assert.Empty(t, ledger.PendingTransactions())

	broadcast.mu.Lock()
	assert.NotEmpty(t, broadcast.blocks)
	broadcast.mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}
