package electrum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ScriptHasher derives the Electrum script hash of an address.
type ScriptHasher interface {
	ScriptHash(address string) (string, error)
}

// ScriptHasherFunc adapts a function to ScriptHasher.
type ScriptHasherFunc func(address string) (string, error)

func (f ScriptHasherFunc) ScriptHash(address string) (string, error) { return f(address) }

// AddressScriptHasher computes script hashes for addresses of one network and caches them.
type AddressScriptHasher struct {
	net   *chaincfg.Params
	cache *lru.Cache[string, string]
}

// DefaultScriptHashCacheSize bounds the number of cached address to script hash entries.
const DefaultScriptHashCacheSize = 1024

// NewAddressScriptHasher returns a hasher for net (mainnet when nil) caching up to
// cacheSize entries.
func NewAddressScriptHasher(net *chaincfg.Params, cacheSize int) (*AddressScriptHasher, error) {
	if net == nil {
		net = &chaincfg.MainNetParams
	}
	if cacheSize <= 0 {
		cacheSize = DefaultScriptHashCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &AddressScriptHasher{net: net, cache: cache}, nil
}

// NetworkParams maps a network name to its chain parameters.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "", "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

// ScriptHash returns the hex sha256 of the address's output script, byte-reversed.
func (h *AddressScriptHasher) ScriptHash(address string) (string, error) {
	if sh, ok := h.cache.Get(address); ok {
		return sh, nil
	}

	addr, err := btcutil.DecodeAddress(address, h.net)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if !addr.IsForNet(h.net) {
		return "", fmt.Errorf("%w: %s is not a %s address", ErrInvalidAddress, address, h.net.Name)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	sh := ScriptHashFromScript(script)
	h.cache.Add(address, sh)
	return sh, nil
}

// ScriptHashFromScript returns the Electrum script hash of an output script.
func ScriptHashFromScript(script []byte) string {
	sum := sha256.Sum256(script)
	for i, j := 0, len(sum)-1; i < j; i, j = i+1, j-1 {
		sum[i], sum[j] = sum[j], sum[i]
	}
	return hex.EncodeToString(sum[:])
}
