package optimize

import (
	"sync"
)

// BytePool is a pool of fixed-size byte slices shared by packet read loops.
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a new byte pool with specified size
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Size reports the length of buffers handed out by Get.
func (p *BytePool) Size() int {
	return p.size
}

// Get gets a byte slice from the pool
func (p *BytePool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns a byte slice to the pool. Slices smaller than the pool size
// are dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
