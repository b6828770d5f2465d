package electrum

import (
	"context"
	"sync"
	"time"
)

// PollState is the state of an OutputPoller.
type PollState int

const (
	PollChecking PollState = iota
	PollFound
	PollErrored
)

func (s PollState) String() string {
	switch s {
	case PollChecking:
		return "checking"
	case PollFound:
		return "found"
	case PollErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// DefaultPollInterval is used when an OutputPoller has no interval.
const DefaultPollInterval = 10 * time.Second

// OutputPoller polls ListUnspent for an address until an output matches Filter.
type OutputPoller struct {
	Client   *Client
	Address  string
	Filter   OutputFilter
	Interval time.Duration
	// OnState, when set, is called on every state change.
	OnState func(PollState)

	mu    sync.Mutex
	state PollState
	found UTXO
	err   error
}

// State returns the current state.
func (p *OutputPoller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Result returns the matching output once found, or the error that stopped polling.
func (p *OutputPoller) Result() (UTXO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.found, p.err
}

// Run polls immediately and then every Interval. It returns the matching output, the
// first lookup error, or ctx's error. The ticker stops in all three cases.
func (p *OutputPoller) Run(ctx context.Context) (UTXO, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p.setState(PollChecking, UTXO{}, nil)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		set, err := p.Client.ListUnspent(ctx, p.Address)
		if err != nil {
			if ctx.Err() != nil {
				return UTXO{}, ctx.Err()
			}
			p.setState(PollErrored, UTXO{}, err)
			return UTXO{}, err
		}
		if u, ok := set.Find(p.Filter); ok {
			p.setState(PollFound, u, nil)
			return u, nil
		}

		select {
		case <-ctx.Done():
			return UTXO{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *OutputPoller) setState(s PollState, u UTXO, err error) {
	p.mu.Lock()
	changed := p.state != s
	p.state, p.found, p.err = s, u, err
	cb := p.OnState
	p.mu.Unlock()

	if cb != nil && (changed || s == PollChecking) {
		cb(s)
	}
}

// WaitForOutput polls address every interval until an output matching f appears.
func (c *Client) WaitForOutput(ctx context.Context, address string, f OutputFilter, interval time.Duration) (UTXO, error) {
	p := &OutputPoller{Client: c, Address: address, Filter: f, Interval: interval}
	return p.Run(ctx)
}
