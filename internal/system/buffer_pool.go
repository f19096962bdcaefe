package system

import (
	"bytes"
	"sync"
)

// maxPooledBuffer ограничивает размер буферов, возвращаемых в пул, чтобы
// одно большое сообщение не удерживало память навсегда.
const maxPooledBuffer = 64 << 10

var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetBuffer возвращает пустой *bytes.Buffer из пула. Используется для
// кодирования сообщений вьюера, которые уходят каждый кадр.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer возвращает буфер в пул для повторного использования.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(buf)
}
