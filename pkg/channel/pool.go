package channel

import "sync"

// idPool hands out request IDs from a fixed set so that at most capacity requests
// are in flight.
type idPool struct {
	mu   sync.Mutex
	free []uint64
}

func newIDPool(capacity int) *idPool {
	p := &idPool{free: make([]uint64, 0, capacity)}
	for id := uint64(capacity); id >= 1; id-- {
		p.free = append(p.free, id)
	}
	return p
}

func (p *idPool) get() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return 0, false
	}
	id := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return id, true
}

func (p *idPool) put(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, id)
}

func (p *idPool) available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
