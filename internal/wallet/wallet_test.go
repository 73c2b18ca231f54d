package wallet_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydra-network/hydra/internal/chain"
	"github.com/hydra-network/hydra/internal/wallet"
)

func keystorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "wallet.json")
}

func TestOpen(t *testing.T) {
	t.Run("CreatesKeystore", func(t *testing.T) {
		path := keystorePath(t)
		w, err := wallet.Open(path, "hunter2")
		require.NoError(t, err)

		assert.Len(t, w.Address(), 64)
		assert.False(t, w.IsLocked())

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("ReopenSameAddress", func(t *testing.T) {
		path := keystorePath(t)
		w1, err := wallet.Open(path, "hunter2")
		require.NoError(t, err)

		w2, err := wallet.Open(path, "hunter2")
		require.NoError(t, err)
		assert.Equal(t, w1.Address(), w2.Address())
		assert.Equal(t, w1.PublicKey(), w2.PublicKey())
	})

	t.Run("WrongPassword", func(t *testing.T) {
		path := keystorePath(t)
		_, err := wallet.Open(path, "hunter2")
		require.NoError(t, err)

		_, err = wallet.Open(path, "wrong")
		assert.ErrorIs(t, err, wallet.ErrInvalidCredentials)
	})

	t.Run("CorruptKeystore", func(t *testing.T) {
		path := keystorePath(t)
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
		_, err := wallet.Open(path, "hunter2")
		assert.Error(t, err)
	})
}

func TestSignLockUnlock(t *testing.T) {
	w, err := wallet.Open(keystorePath(t), "hunter2")
	require.NoError(t, err)

	payload := []byte("proof of training")
	sig, err := w.Sign(payload)
	require.NoError(t, err)
	assert.True(t, wallet.Verify(payload, sig, w.PublicKey()))
	assert.False(t, wallet.Verify([]byte("other payload"), sig, w.PublicKey()))

	w.Lock()
	assert.True(t, w.IsLocked())
	_, err = w.Sign(payload)
	assert.ErrorIs(t, err, wallet.ErrWalletLocked)

	assert.ErrorIs(t, w.Unlock("wrong"), wallet.ErrInvalidCredentials)
	require.NoError(t, w.Unlock("hunter2"))

	sig2, err := w.Sign(payload)
	require.NoError(t, err)
	assert.True(t, wallet.Verify(payload, sig2, w.PublicKey()))
}

func TestChangePassword(t *testing.T) {
	path := keystorePath(t)
	w, err := wallet.Open(path, "old-password")
	require.NoError(t, err)
	address := w.Address()

	t.Run("WrongOldPassword", func(t *testing.T) {
		err := w.ChangePassword("nope", "new-password")
		assert.ErrorIs(t, err, wallet.ErrInvalidCredentials)
	})

	t.Run("Reseal", func(t *testing.T) {
		require.NoError(t, w.ChangePassword("old-password", "new-password"))

		_, err := wallet.Open(path, "old-password")
		assert.ErrorIs(t, err, wallet.ErrInvalidCredentials)

		reopened, err := wallet.Open(path, "new-password")
		require.NoError(t, err)
		assert.Equal(t, address, reopened.Address())
	})
}

func TestWalletNewTransaction(t *testing.T) {
	w, err := wallet.Open(keystorePath(t), "hunter2")
	require.NoError(t, err)

	tx, err := w.NewTransaction(chain.TxTransfer, "recipient-address", 5, "payment")
	require.NoError(t, err)

	assert.Equal(t, w.Address(), tx.From)
	assert.NoError(t, tx.VerifySignature())

	w.Lock()
	_, err = w.NewTransaction(chain.TxTransfer, "recipient-address", 5, "payment")
	assert.ErrorIs(t, err, wallet.ErrWalletLocked)
}
