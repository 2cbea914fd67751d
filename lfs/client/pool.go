package client

import "sync"

// BufferPool hands out reusable byte slices sized to the configured
// download chunk size, so concurrent transfers don't churn the allocator.
type BufferPool struct {
	pool      sync.Pool
	chunkSize int
}

// NewBufferPool builds a pool of buffers of chunkSize bytes.
func NewBufferPool(chunkSize int) *BufferPool {
	bp := &BufferPool{chunkSize: chunkSize}
	bp.pool.New = func() any {
		return make([]byte, bp.chunkSize)
	}
	return bp
}

// Get returns a buffer of at least chunkSize bytes.
func (p *BufferPool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.chunkSize {
		return make([]byte, p.chunkSize)
	}
	return buf[:p.chunkSize]
}

// Put returns buf to the pool for reuse.
func (p *BufferPool) Put(buf []byte) {
	p.pool.Put(buf)
}
