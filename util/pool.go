package util

import "sync"

// DefaultBufSize is the standard buffer size for line scanning (32 KiB).
// SVDRP responses are short, but LSTE epg dumps can produce long lines.
const DefaultBufSize = 32 * 1024

// BufPool provides reusable byte buffers for the line-scanning read
// loops, reducing GC pressure with many concurrent client sessions.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
