package chain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydra-network/hydra/internal/chain"
	"github.com/hydra-network/hydra/internal/testutil"
)

const testAttemptCeiling = 1 << 22

func testTransactions(t *testing.T, n int) []chain.Transaction {
	t.Helper()
	alice := testutil.NewSigner(1)
	txs := make([]chain.Transaction, 0, n)
	for i := 0; i < n; i++ {
		tx, err := chain.NewTransaction(chain.TxTransfer, testutil.NewSigner(byte(10+i)).Address(), float64(i+1), "", alice)
		require.NoError(t, err)
		txs = append(txs, *tx)
	}
	return txs
}

func minedBlock(t *testing.T, txs []chain.Transaction, difficulty uint64) *chain.Block {
	t.Helper()
	b := &chain.Block{
		Height:       1,
		PreviousHash: "aa",
		MerkleRoot:   chain.ComputeMerkleRoot(txs),
		Timestamp:    1700000000,
		Transactions: txs,
		Miner:        testutil.NewSigner(1).Address(),
		ModelVersion: "v1",
	}
	require.NoError(t, b.Mine(context.Background(), difficulty, testAttemptCeiling))
	return b
}

func TestComputeMerkleRoot(t *testing.T) {
	t.Run("EmptyListIsEmptyStringHash", func(t *testing.T) {
		// sha256 of zero bytes
		assert.Equal(t,
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			chain.ComputeMerkleRoot(nil))
	})

	t.Run("Deterministic", func(t *testing.T) {
		txs := testTransactions(t, 4)
		assert.Equal(t, chain.ComputeMerkleRoot(txs), chain.ComputeMerkleRoot(txs))
	})

	t.Run("OrderSensitive", func(t *testing.T) {
		txs := testTransactions(t, 2)
		swapped := []chain.Transaction{txs[1], txs[0]}
		assert.NotEqual(t, chain.ComputeMerkleRoot(txs), chain.ComputeMerkleRoot(swapped))
	})

	t.Run("OddLeafDuplication", func(t *testing.T) {
		txs := testTransactions(t, 3)
		padded := append(append([]chain.Transaction{}, txs...), txs[2])
		assert.Equal(t, chain.ComputeMerkleRoot(padded), chain.ComputeMerkleRoot(txs))
	})

	t.Run("ContentSensitive", func(t *testing.T) {
		txs := testTransactions(t, 3)
		root := chain.ComputeMerkleRoot(txs)
		txs[1].Amount += 1
		assert.NotEqual(t, root, chain.ComputeMerkleRoot(txs))
	})
}

func TestHashMeetsDifficulty(t *testing.T) {
	tests := []struct {
		hash       string
		difficulty uint64
		want       bool
	}{
		{"ff00", 0, true},
		{"ff00", 1, false},
		{"7f00", 1, true},
		{"7f00", 2, false},
		{"00ff", 8, true},
		{"00ff", 9, false},
		{"007f", 9, true},
		{"0000", 16, true},
		{"not-hex", 0, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, chain.HashMeetsDifficulty(tc.hash, tc.difficulty),
			"hash %s difficulty %d", tc.hash, tc.difficulty)
	}
}

func TestBlockVerify(t *testing.T) {
	t.Run("MinedBlockVerifies", func(t *testing.T) {
		b := minedBlock(t, testTransactions(t, 3), 8)
		assert.NoError(t, b.Verify())
	})

	t.Run("TamperedTransactionBreaksMerkle", func(t *testing.T) {
		b := minedBlock(t, testTransactions(t, 3), 8)
		b.Transactions[0].Amount = 9999
		assert.ErrorIs(t, b.Verify(), chain.ErrMalformedData)
	})

	t.Run("TamperedNonceBreaksHash", func(t *testing.T) {
		b := minedBlock(t, testTransactions(t, 1), 8)
		b.Nonce++
		assert.ErrorIs(t, b.Verify(), chain.ErrMalformedData)
	})

	t.Run("InsufficientWork", func(t *testing.T) {
		b := minedBlock(t, nil, 1)
		b.Difficulty = 128
		b.Hash = b.ComputeHash()
		assert.ErrorIs(t, b.Verify(), chain.ErrProofOfWork)
	})

	t.Run("BadSignatureInsideBlock", func(t *testing.T) {
		txs := testTransactions(t, 2)
		txs[1].Signature = txs[0].Signature
		b := minedBlock(t, txs, 8)
		assert.ErrorIs(t, b.Verify(), chain.ErrInvalidSignature)
	})
}

func TestMine(t *testing.T) {
	t.Run("FindsNonce", func(t *testing.T) {
		b := minedBlock(t, testTransactions(t, 1), 10)
		assert.Equal(t, uint64(10), b.Difficulty)
		assert.True(t, chain.HashMeetsDifficulty(b.Hash, 10))
	})

	t.Run("Cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		b := &chain.Block{Height: 1, MerkleRoot: chain.ComputeMerkleRoot(nil)}
		err := b.Mine(ctx, 64, testAttemptCeiling)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("AttemptCeiling", func(t *testing.T) {
		b := &chain.Block{Height: 1, MerkleRoot: chain.ComputeMerkleRoot(nil)}
		err := b.Mine(context.Background(), 80, 16)
		assert.ErrorIs(t, err, chain.ErrMiningExhausted)
	})
}

func TestDecodeBlock(t *testing.T) {
	b := minedBlock(t, testTransactions(t, 2), 8)

	data, err := b.Encode()
	require.NoError(t, err)

	decoded, err := chain.DecodeBlock(data)
	require.NoError(t, err)
	assert.Equal(t, b, decoded)
	assert.NoError(t, decoded.Verify())

	_, err = chain.DecodeBlock([]byte(`{"height":`))
	assert.ErrorIs(t, err, chain.ErrMalformedData)
}

func TestTotalWork(t *testing.T) {
	blocks := []*chain.Block{
		{Difficulty: 1},
		{Difficulty: 2},
		{Difficulty: 3},
	}
	assert.Equal(t, int64(2+4+8), chain.TotalWork(blocks).Int64())
	assert.Equal(t, int64(0), chain.TotalWork(nil).Int64())
}
