package hydrad_test

import (
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydra-network/hydra/cmd/hydrad"
	"github.com/hydra-network/hydra/internal/testutil"
)

var addressPattern = regexp.MustCompile(`[0-9a-f]{64}`)

func TestWalletCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")
	t.Setenv("HYDRA_WALLET_PASSWORD", "hunter2")

	out, err := testutil.Execute(t, hydrad.RootCmd, "wallet", "new", "--wallet", path, "--logLevel", "error")
	require.NoError(t, err)
	address := addressPattern.FindString(out)
	require.NotEmpty(t, address, "wallet new did not print an address")

	out, err = testutil.Execute(t, hydrad.RootCmd, "wallet", "address", "--wallet", path, "--logLevel", "error")
	require.NoError(t, err)
	assert.Equal(t, address, addressPattern.FindString(out))

	t.Setenv("HYDRA_WALLET_NEW_PASSWORD", "correct-horse")
	_, err = testutil.Execute(t, hydrad.RootCmd, "wallet", "change-password", "--wallet", path, "--logLevel", "error")
	require.NoError(t, err)

	// The old password no longer opens the keystore.
	_, err = testutil.Execute(t, hydrad.RootCmd, "wallet", "address", "--wallet", path, "--logLevel", "error")
	assert.Error(t, err)

	t.Setenv("HYDRA_WALLET_PASSWORD", "correct-horse")
	out, err = testutil.Execute(t, hydrad.RootCmd, "wallet", "address", "--wallet", path, "--logLevel", "error")
	require.NoError(t, err)
	assert.Equal(t, address, addressPattern.FindString(out))
}
