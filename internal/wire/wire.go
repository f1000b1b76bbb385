package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1

	headerLen = 4 + 1 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("loadcache: corrupt entry")
	magic4     = [...]byte{'L', 'D', 'C', 'E'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeEntry frames a loaded value for a provider:
//
//	magic(4) | ver(1) | kind(1) | loadedAt(i64 be, unix nanos) | expiresAt(i64 be) | vlen(u32 be) | payload(vlen)
//
// Timestamps travel with the value so an adopted entry keeps its original age.
func EncodeEntry(loadedAt, expiresAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(loadedAt.UnixNano()))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(expiresAt.UnixNano()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeEntry is the inverse of EncodeEntry. The returned payload aliases b.
// Anything but an exact frame, including trailing bytes, is ErrCorrupt.
func DecodeEntry(b []byte) (loadedAt, expiresAt time.Time, payload []byte, err error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return time.Time{}, time.Time{}, nil, ErrCorrupt
	}
	off := 6

	loaded := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	expires := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	if expires < loaded {
		return time.Time{}, time.Time{}, nil, ErrCorrupt
	}

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen != len(b)-off {
		return time.Time{}, time.Time{}, nil, ErrCorrupt
	}

	return time.Unix(0, loaded), time.Unix(0, expires), b[off:], nil
}
