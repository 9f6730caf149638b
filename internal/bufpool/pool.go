// Package bufpool provides a size-bucketed sync.Pool of byte slices, used to
// reuse MEMREF_TEMP parameter buffers across SEND invocations instead of
// allocating fresh ones on every request.
package bufpool

import "sync"

// bucket sizes, quadrupling from 4KiB to 1MiB. A buffer larger than the last
// bucket is allocated directly and never pooled.
var bucketSizes = []int{
	4 << 10,
	16 << 10,
	64 << 10,
	256 << 10,
	1 << 20,
}

var pools = func() []*sync.Pool {
	ps := make([]*sync.Pool, len(bucketSizes))
	for i, sz := range bucketSizes {
		sz := sz
		ps[i] = &sync.Pool{
			New: func() any {
				return make([]byte, sz)
			},
		}
	}
	return ps
}()

func bucketFor(sz int) int {
	for i, bsz := range bucketSizes {
		if sz <= bsz {
			return i
		}
	}
	return -1
}

// Get returns a zeroed buffer of at least sz bytes, sliced to exactly sz. The
// buffer may come from a pool bucket or be allocated fresh for oversized
// requests.
func Get(sz int) []byte {
	idx := bucketFor(sz)
	if idx == -1 {
		return make([]byte, sz)
	}
	buf := pools[idx].Get().([]byte)
	for i := range buf {
		buf[i] = 0
	}
	return buf[:sz]
}

// Put returns buf to its bucket pool. Buffers whose capacity doesn't match a
// bucket exactly (oversized allocations) are dropped rather than pooled.
func Put(buf []byte) {
	c := cap(buf)
	for i, bsz := range bucketSizes {
		if c == bsz {
			pools[i].Put(buf[:bsz])
			return
		}
	}
}
