package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// binWriter accumulates the deterministic binary encoding described in
// codec.go into a pooled buffer. The first error encountered is sticky so
// call sites don't need to check every intermediate write.
type binWriter struct {
	buf *bytes.Buffer
	err error
}

func (w *binWriter) writeUint16(v uint16) {
	if w.err != nil {
		return
	}
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *binWriter) writeUint32(v uint32) {
	if w.err != nil {
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *binWriter) writeUint64(v uint64) {
	if w.err != nil {
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *binWriter) writeBool(v bool) {
	if w.err != nil {
		return
	}
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *binWriter) writeBytes(v []byte) {
	w.writeUint32(uint32(len(v)))
	if w.err != nil {
		return
	}
	w.buf.Write(v)
}

func (w *binWriter) writeString(v string) {
	w.writeBytes([]byte(v))
}

// writeOptionalBytes encodes a presence byte followed by the value when
// non-nil. A nil slice and an empty-but-present slice are distinguished so
// decode round-trips exactly.
func (w *binWriter) writeOptionalBytes(v []byte) {
	if v == nil {
		w.writeBool(false)
		return
	}
	w.writeBool(true)
	w.writeBytes(v)
}

func (w *binWriter) writeOptionalString(v string) {
	if v == "" {
		w.writeBool(false)
		return
	}
	w.writeBool(true)
	w.writeString(v)
}

// binReader is the mirror-image consumer of binWriter's encoding. err is
// sticky and all reads become no-ops once set, so a caller can perform a
// sequence of reads and check err exactly once at the end.
type binReader struct {
	data []byte
	off  int
	err  error
}

var errShortBuffer = errors.New("protocol: truncated message payload")

func (r *binReader) readUint16() uint16 {
	if r.err != nil {
		return 0
	}
	if len(r.data)-r.off < 2 {
		r.err = errShortBuffer
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *binReader) readUint32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.data)-r.off < 4 {
		r.err = errShortBuffer
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *binReader) readUint64() uint64 {
	if r.err != nil {
		return 0
	}
	if len(r.data)-r.off < 8 {
		r.err = errShortBuffer
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *binReader) readBool() bool {
	if r.err != nil {
		return false
	}
	if len(r.data)-r.off < 1 {
		r.err = errShortBuffer
		return false
	}
	v := r.data[r.off] != 0
	r.off++
	return v
}

func (r *binReader) readBytes() []byte {
	n := r.readUint32()
	if r.err != nil {
		return nil
	}
	if uint32(len(r.data)-r.off) < n {
		r.err = errShortBuffer
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+int(n)])
	r.off += int(n)
	return out
}

func (r *binReader) readString() string {
	b := r.readBytes()
	if r.err != nil {
		return ""
	}
	return string(b)
}

func (r *binReader) readOptionalBytes() []byte {
	present := r.readBool()
	if r.err != nil || !present {
		return nil
	}
	return r.readBytes()
}

func (r *binReader) readOptionalString() string {
	present := r.readBool()
	if r.err != nil || !present {
		return ""
	}
	return r.readString()
}
