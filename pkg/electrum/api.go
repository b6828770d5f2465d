package electrum

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Method is an Electrum protocol method name.
type Method string

func (m Method) String() string { return string(m) }

const (
	ServerVersionMethod         Method = "server.version"
	ServerPingMethod            Method = "server.ping"
	GetBalanceMethod            Method = "blockchain.scripthash.get_balance"
	ListUnspentMethod           Method = "blockchain.scripthash.listunspent"
	GetHistoryMethod            Method = "blockchain.scripthash.get_history"
	GetMempoolMethod            Method = "blockchain.scripthash.get_mempool"
	GetTransactionMethod        Method = "blockchain.transaction.get"
	BroadcastMethod             Method = "blockchain.transaction.broadcast"
	EstimateFeeMethod           Method = "blockchain.estimatefee"
	HeadersSubscribeMethod      Method = "blockchain.headers.subscribe"
	ScriptHashSubscribeMethod   Method = "blockchain.scripthash.subscribe"
	ScriptHashUnsubscribeMethod Method = "blockchain.scripthash.unsubscribe"
)

// Methods returns the name of every method the client calls.
func Methods() []string {
	return []string{
		ServerVersionMethod.String(),
		ServerPingMethod.String(),
		GetBalanceMethod.String(),
		ListUnspentMethod.String(),
		GetHistoryMethod.String(),
		GetMempoolMethod.String(),
		GetTransactionMethod.String(),
		BroadcastMethod.String(),
		EstimateFeeMethod.String(),
		HeadersSubscribeMethod.String(),
		ScriptHashSubscribeMethod.String(),
		ScriptHashUnsubscribeMethod.String(),
	}
}

// satsExponent scales satoshis to bitcoins.
const satsExponent = -8

// SatsToBTC converts an amount in satoshis to bitcoins.
func SatsToBTC(sats int64) decimal.Decimal {
	return decimal.New(sats, satsExponent)
}

// ServerVersion is the reply to server.version.
type ServerVersion struct {
	Software string
	Protocol string
}

// UnmarshalJSON reads the [software, protocol] pair.
func (v *ServerVersion) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("server.version: expected 2 elements, got %d", len(pair))
	}
	v.Software, v.Protocol = pair[0], pair[1]
	return nil
}

// Balance is the confirmed and unconfirmed balance of a script hash, in satoshis.
// Unconfirmed may be negative when mempool transactions spend confirmed outputs.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// Total returns confirmed plus unconfirmed, in bitcoins.
func (b Balance) Total() decimal.Decimal {
	return SatsToBTC(b.Confirmed).Add(SatsToBTC(b.Unconfirmed))
}

// UTXO is an unspent output as reported by listunspent. Height is 0 for mempool outputs.
type UTXO struct {
	TxHash string `json:"tx_hash"`
	TxPos  uint32 `json:"tx_pos"`
	Height int64  `json:"height"`
	Value  int64  `json:"value"`
}

// Confirmed reports whether the output is mined.
func (u UTXO) Confirmed() bool { return u.Height > 0 }

// Outpoint returns "txid:vout".
func (u UTXO) Outpoint() string { return fmt.Sprintf("%s:%d", u.TxHash, u.TxPos) }

// Amount returns the value in bitcoins.
func (u UTXO) Amount() decimal.Decimal { return SatsToBTC(u.Value) }

// HistoryItem is one entry of get_history or get_mempool. Fee is only set for mempool entries.
type HistoryItem struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
	Fee    int64  `json:"fee,omitempty"`
}

// Header is a block header notification or the tip returned by headers.subscribe.
type Header struct {
	Height int64  `json:"height"`
	Hex    string `json:"hex"`
}
