// Package buffers provides a size-keyed pool of reusable byte buffers for
// the parallel transfer engine's per-chunk read/write loop, reducing GC
// pressure under the high worker counts the high throughput preset uses.
package buffers

import "sync"

var pools sync.Map // map[int]*sync.Pool

func poolFor(size int) *sync.Pool {
	if p, ok := pools.Load(size); ok {
		return p.(*sync.Pool)
	}
	p := &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, size)
			return &buf
		},
	}
	actual, _ := pools.LoadOrStore(size, p)
	return actual.(*sync.Pool)
}

// Get retrieves a buffer of exactly size bytes from the pool for size,
// allocating a new one if the pool is empty. The chunk size is fixed for
// the lifetime of one transfer (set by the chosen metrics.Preset), so a
// worker calls Get/Put with the same size for its whole run.
func Get(size int) *[]byte {
	return poolFor(size).Get().(*[]byte)
}

// Put returns buf to the pool keyed by its length; a buffer of any length
// is pooled under that length.
func Put(buf *[]byte) {
	if buf == nil {
		return
	}
	poolFor(len(*buf)).Put(buf)
}
