package electrum

import "github.com/shopspring/decimal"

// DustLimit is the value, in satoshis, at or below which DefaultClassifier marks an
// output as special. Such outputs usually carry inscriptions or other tokens and must
// not be spent as plain funds.
const DustLimit = 546

// OutputClassifier reports whether an output is special.
type OutputClassifier func(UTXO) bool

// DefaultClassifier marks outputs at or below DustLimit as special.
func DefaultClassifier(u UTXO) bool { return u.Value <= DustLimit }

// UTXOSet groups the unspent outputs of a script hash. Totals cover plain outputs
// only; special outputs are summed separately.
type UTXOSet struct {
	Plain   []UTXO
	Special []UTXO

	Confirmed    int64
	Unconfirmed  int64
	SpecialValue int64
}

// NewUTXOSet classifies utxos with classify (DefaultClassifier when nil).
func NewUTXOSet(utxos []UTXO, classify OutputClassifier) UTXOSet {
	if classify == nil {
		classify = DefaultClassifier
	}

	set := UTXOSet{Plain: []UTXO{}, Special: []UTXO{}}
	for _, u := range utxos {
		if classify(u) {
			set.Special = append(set.Special, u)
			set.SpecialValue += u.Value
			continue
		}
		set.Plain = append(set.Plain, u)
		if u.Confirmed() {
			set.Confirmed += u.Value
		} else {
			set.Unconfirmed += u.Value
		}
	}
	return set
}

// Total returns the plain confirmed and unconfirmed value in bitcoins.
func (s UTXOSet) Total() decimal.Decimal {
	return SatsToBTC(s.Confirmed + s.Unconfirmed)
}

// Find returns the first output accepted by f, searching plain outputs first.
func (s UTXOSet) Find(f OutputFilter) (UTXO, bool) {
	for _, u := range s.Plain {
		if f.Match(u) {
			return u, true
		}
	}
	if f.ExcludeSpecial {
		return UTXO{}, false
	}
	for _, u := range s.Special {
		if f.Match(u) {
			return u, true
		}
	}
	return UTXO{}, false
}

// OutputFilter selects an output by amount. A zero ExactAmount and MinAmount accept any value.
type OutputFilter struct {
	// ExactAmount, when positive, requires this exact value in satoshis.
	ExactAmount int64
	// MinAmount, when positive, requires at least this value in satoshis.
	MinAmount int64
	// ExcludeSpecial skips outputs marked special by the client's classifier.
	ExcludeSpecial bool
}

// Match reports whether u satisfies the amount constraints.
func (f OutputFilter) Match(u UTXO) bool {
	if f.ExactAmount > 0 && u.Value != f.ExactAmount {
		return false
	}
	if f.MinAmount > 0 && u.Value < f.MinAmount {
		return false
	}
	return true
}
