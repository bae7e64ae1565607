package protocol

import (
	"bytes"
	"sync"
)

// Buffer size constants.
const (
	SmallBufferSize  = 256         // heartbeats, errors, close messages
	MediumBufferSize = 4096        // typical control messages
	PumpBufferSize   = 64 * 1024   // per-read size for the local<->control data pump
	MaxPooledBuffer  = 1024 * 1024 // buffers larger than this are not returned to the pool
)

// bufferPool reuses the bytes.Buffer used to assemble one outgoing frame.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// pumpBufferPool reuses the fixed-size read buffers the data pump uses to
// read from local sockets before wrapping the bytes in a Data message.
var pumpBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, PumpBufferSize)
		return &buf
	},
}

// GetBuffer retrieves a reset buffer from the pool.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool. Oversized buffers are dropped
// rather than pooled to avoid memory bloat from one large message.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > MaxPooledBuffer {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// GetBufferWithSize retrieves a buffer pre-grown to sizeHint.
func GetBufferWithSize(sizeHint int) *bytes.Buffer {
	buf := GetBuffer()
	if sizeHint > 0 && buf.Cap() < sizeHint {
		buf.Grow(sizeHint)
	}
	return buf
}

// GetPumpBuffer retrieves a PumpBufferSize-sized read buffer.
func GetPumpBuffer() *[]byte {
	return pumpBufferPool.Get().(*[]byte)
}

// PutPumpBuffer returns a pump buffer to the pool.
func PutPumpBuffer(buf *[]byte) {
	if buf == nil {
		return
	}
	pumpBufferPool.Put(buf)
}
