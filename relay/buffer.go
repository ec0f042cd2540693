package relay

import "sync"

const chunkSize = 64 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, chunkSize)
		return &b
	},
}

// getBuf 从缓冲池获取一个会话读缓冲区。
func getBuf() *[]byte {
	return bufPool.Get().(*[]byte)
}

// putBuf 归还缓冲区（容量异常的切片直接丢弃）。
func putBuf(b *[]byte) {
	if cap(*b) < chunkSize {
		return
	}
	*b = (*b)[:chunkSize]
	bufPool.Put(b)
}
