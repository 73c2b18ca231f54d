package node_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydra-network/hydra/internal/chain"
	"github.com/hydra-network/hydra/internal/node"
	"github.com/hydra-network/hydra/internal/store"
	"github.com/hydra-network/hydra/internal/testutil"
)

func syncTestLedger(t *testing.T) *chain.Ledger {
	t.Helper()
	cfg := testNodeConfig()
	ledger := chain.NewLedger(store.NewMemory(), cfg.ChainParams())
	require.NoError(t, ledger.Initialize(context.Background(), map[string]float64{
		testutil.NewSigner(1).Address(): 100,
	}))
	return ledger
}

func TestChainHandler(t *testing.T) {
	ledger := syncTestLedger(t)
	b := mineExternalBlock(t, ledger, nil, "miner")
	require.NoError(t, ledger.AddBlock(context.Background(), b))

	server := httptest.NewServer(node.ChainHandler(ledger))
	defer server.Close()

	t.Run("Export", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/chain/export")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var payload struct {
			Format  string        `json:"format"`
			Version int           `json:"version"`
			Blocks  []chain.Block `json:"blocks"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		assert.Equal(t, "hydra-chain", payload.Format)
		assert.Equal(t, 1, payload.Version)
		assert.Len(t, payload.Blocks, 2)
	})

	t.Run("BlockRange", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/chain/blocks?start=1&end=1")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var blocks []chain.Block
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&blocks))
		require.Len(t, blocks, 1)
		assert.Equal(t, uint64(1), blocks[0].Height)
	})

	t.Run("BadRange", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/chain/blocks?start=x&end=1")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSyncOnce(t *testing.T) {
	source := syncTestLedger(t)
	b := mineExternalBlock(t, source, nil, "miner")
	require.NoError(t, source.AddBlock(context.Background(), b))

	server := httptest.NewServer(node.ChainHandler(source))
	defer server.Close()

	t.Run("AdoptsLongerChain", func(t *testing.T) {
		target := syncTestLedger(t)
		bus := node.NewBus()
		events := bus.Subscribe()

		syncer := node.NewSyncer(target, bus, []string{server.URL}, 0)
		require.NoError(t, syncer.SyncOnce(context.Background(), server.URL))
		assert.Equal(t, source.Height(), target.Height())

		e := waitEvent(t, events, node.EventSyncCompleted)
		assert.Equal(t, uint64(1), e.Height)

		// A second pass sees nothing better and changes nothing.
		require.NoError(t, syncer.SyncOnce(context.Background(), server.URL))
		assert.Equal(t, source.Height(), target.Height())
	})

	t.Run("PeerError", func(t *testing.T) {
		broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer broken.Close()

		target := syncTestLedger(t)
		syncer := node.NewSyncer(target, node.NewBus(), []string{broken.URL}, 0)
		err := syncer.SyncOnce(context.Background(), broken.URL)
		assert.ErrorContains(t, err, "status 500")
	})

	t.Run("UnreachablePeer", func(t *testing.T) {
		target := syncTestLedger(t)
		syncer := node.NewSyncer(target, node.NewBus(), nil, 0)
		err := syncer.SyncOnce(context.Background(), "http://127.0.0.1:1")
		assert.ErrorContains(t, err, "failed to fetch chain export")
	})
}
