package electrum_test

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/rpccore/pkg/electrum"
)

const (
	genesisAddress    = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	genesisScriptHash = "8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47a0cfbf90b5c39161"
)

func TestAddressScriptHasher(t *testing.T) {
	t.Parallel()

	h, err := electrum.NewAddressScriptHasher(nil, 8)
	require.NoError(t, err)

	t.Run("p2pkh", func(t *testing.T) {
		sh, err := h.ScriptHash(genesisAddress)
		require.NoError(t, err)
		assert.Equal(t, genesisScriptHash, sh)

		cached, err := h.ScriptHash(genesisAddress)
		require.NoError(t, err)
		assert.Equal(t, sh, cached)
	})

	t.Run("segwit", func(t *testing.T) {
		sh, err := h.ScriptHash("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4")
		require.NoError(t, err)
		assert.Len(t, sh, 64)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := h.ScriptHash("not-an-address")
		assert.ErrorIs(t, err, electrum.ErrInvalidAddress)
	})

	t.Run("wrong network", func(t *testing.T) {
		testnet, err := electrum.NewAddressScriptHasher(&chaincfg.TestNet3Params, 0)
		require.NoError(t, err)

		_, err = testnet.ScriptHash(genesisAddress)
		assert.ErrorIs(t, err, electrum.ErrInvalidAddress)
	})
}

func TestNetworkParams(t *testing.T) {
	t.Parallel()

	p, err := electrum.NetworkParams("")
	require.NoError(t, err)
	assert.Equal(t, chaincfg.MainNetParams.Name, p.Name)

	p, err = electrum.NetworkParams("regtest")
	require.NoError(t, err)
	assert.Equal(t, chaincfg.RegressionNetParams.Name, p.Name)

	_, err = electrum.NetworkParams("dogecoin")
	assert.Error(t, err)
}
