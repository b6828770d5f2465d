package electrum_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/rpccore/pkg/electrum"
)

func TestNewUTXOSet(t *testing.T) {
	t.Parallel()

	utxos := []electrum.UTXO{
		{TxHash: "aa", TxPos: 0, Height: 100, Value: 50_000},
		{TxHash: "bb", TxPos: 1, Height: 0, Value: 20_000},
		{TxHash: "cc", TxPos: 0, Height: 101, Value: 546},
		{TxHash: "dd", TxPos: 2, Height: 0, Value: 330},
	}

	set := electrum.NewUTXOSet(utxos, nil)
	require.Len(t, set.Plain, 2)
	require.Len(t, set.Special, 2)
	assert.Equal(t, int64(50_000), set.Confirmed)
	assert.Equal(t, int64(20_000), set.Unconfirmed)
	assert.Equal(t, int64(876), set.SpecialValue)
	assert.True(t, decimal.RequireFromString("0.0007").Equal(set.Total()))

	all := electrum.NewUTXOSet(utxos, func(electrum.UTXO) bool { return false })
	assert.Len(t, all.Plain, 4)
	assert.Empty(t, all.Special)
	assert.Equal(t, int64(0), all.SpecialValue)
}

func TestUTXOSetFind(t *testing.T) {
	t.Parallel()

	set := electrum.NewUTXOSet([]electrum.UTXO{
		{TxHash: "aa", Height: 1, Value: 10_000},
		{TxHash: "bb", Height: 1, Value: 500},
	}, nil)

	u, ok := set.Find(electrum.OutputFilter{MinAmount: 5_000})
	require.True(t, ok)
	assert.Equal(t, "aa", u.TxHash)

	u, ok = set.Find(electrum.OutputFilter{ExactAmount: 500})
	require.True(t, ok)
	assert.Equal(t, "bb", u.TxHash)

	_, ok = set.Find(electrum.OutputFilter{ExactAmount: 500, ExcludeSpecial: true})
	assert.False(t, ok)

	_, ok = set.Find(electrum.OutputFilter{MinAmount: 20_000})
	assert.False(t, ok)
}

func TestServerVersionUnmarshal(t *testing.T) {
	t.Parallel()

	var v electrum.ServerVersion
	require.NoError(t, json.Unmarshal([]byte(`["ElectrumX 1.16.0","1.4"]`), &v))
	assert.Equal(t, "ElectrumX 1.16.0", v.Software)
	assert.Equal(t, "1.4", v.Protocol)

	assert.Error(t, json.Unmarshal([]byte(`["only one"]`), &v))
}

func TestSatsToBTC(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1.5", electrum.SatsToBTC(150_000_000).String())
	assert.Equal(t, "0.00000546", electrum.SatsToBTC(546).String())

	b := electrum.Balance{Confirmed: 100_000, Unconfirmed: -40_000}
	assert.Equal(t, "0.0006", b.Total().String())
}
