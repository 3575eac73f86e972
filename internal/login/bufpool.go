package login

import "sync"

// BytePool is a pool of reusable []byte scratch buffers, used to encode
// response payloads without an allocation per packet. Reduces GC
// pressure under many concurrent connections.
type BytePool struct {
	pool sync.Pool
}

// NewBytePool creates a pool whose freshly allocated slices start at
// defaultCap capacity.
func NewBytePool(defaultCap int) *BytePool {
	p := &BytePool{}
	p.pool.New = func() any {
		return make([]byte, 0, defaultCap)
	}
	return p
}

// Get returns a slice of length size, reused from the pool when possible.
func (p *BytePool) Get(size int) []byte {
	b := p.pool.Get().([]byte)
	if cap(b) < size {
		p.pool.Put(b)
		return make([]byte, size)
	}
	b = b[:size]
	clear(b)
	return b
}

// Put returns a slice to the pool for reuse.
func (p *BytePool) Put(b []byte) {
	if b == nil {
		return
	}
	p.pool.Put(b[:0])
}
