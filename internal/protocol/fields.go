package protocol

import (
	"encoding/binary"
	"net/netip"
	"strings"
	"unicode/utf8"
)

// Readers return the zero value when the buffer is too short; decoders
// validate the packet length before calling them.

// Uint16At reads a little-endian uint16 at off.
func Uint16At(b []byte, off int) uint16 {
	if off < 0 || len(b) < off+2 {
		return 0
	}
	return binary.LittleEndian.Uint16(b[off:])
}

// Int16At reads a little-endian int16 at off.
func Int16At(b []byte, off int) int16 {
	return int16(Uint16At(b, off))
}

// Uint32At reads a little-endian uint32 at off.
func Uint32At(b []byte, off int) uint32 {
	if off < 0 || len(b) < off+4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b[off:])
}

// Int32At reads a little-endian int32 at off.
func Int32At(b []byte, off int) int32 {
	return int32(Uint32At(b, off))
}

// Uint8At reads a single byte at off.
func Uint8At(b []byte, off int) uint8 {
	if off < 0 || len(b) <= off {
		return 0
	}
	return b[off]
}

// StringAt returns the string stored in b[start:end]: cut at the first
// NUL, reduced to its longest valid UTF-8 prefix and optionally trimmed.
// The window is clamped to the buffer. The result never aliases b.
func StringAt(b []byte, start, end int, trim bool) string {
	region := window(b, start, end)
	region = region[:validUTF8Prefix(region)]
	return trimString(string(region), trim)
}

func window(b []byte, start, end int) []byte {
	if start < 0 {
		start = 0
	}
	if end > len(b) {
		end = len(b)
	}
	if start >= end {
		return nil
	}
	region := b[start:end]
	if i := indexNUL(region); i >= 0 {
		region = region[:i]
	}
	return region
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0x00 {
			return i
		}
	}
	return -1
}

// validUTF8Prefix returns the length of the longest prefix of b that is
// valid UTF-8.
func validUTF8Prefix(b []byte) int {
	n := 0
	for n < len(b) {
		r, size := utf8.DecodeRune(b[n:])
		if r == utf8.RuneError && size <= 1 {
			break
		}
		n += size
	}
	return n
}

func trimString(s string, trim bool) string {
	if trim {
		return strings.TrimSpace(s)
	}
	return s
}

func fits(b []byte, off, size int) error {
	if off < 0 || len(b) < off+size {
		return &FieldError{Err: ErrBufferTooSmall, Offset: off, Required: off + size}
	}
	return nil
}

// PutUint16 writes v little-endian at off.
func PutUint16(b []byte, off int, v uint16) error {
	if err := fits(b, off, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b[off:], v)
	return nil
}

// PutInt16 writes v little-endian at off.
func PutInt16(b []byte, off int, v int16) error {
	return PutUint16(b, off, uint16(v))
}

// PutUint32 writes v little-endian at off.
func PutUint32(b []byte, off int, v uint32) error {
	if err := fits(b, off, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b[off:], v)
	return nil
}

// PutInt32 writes v little-endian at off.
func PutInt32(b []byte, off int, v int32) error {
	return PutUint32(b, off, uint32(v))
}

// PutUint8 writes a single byte at off.
func PutUint8(b []byte, off int, v uint8) error {
	if err := fits(b, off, 1); err != nil {
		return err
	}
	b[off] = v
	return nil
}

// PutString copies s into the width-byte region at off. Either all of s
// is written or nothing is. The rest of the region is left untouched.
func PutString(b []byte, off, width int, s string) error {
	return putBytes(b, off, width, []byte(s))
}

func putBytes(b []byte, off, width int, data []byte) error {
	if len(data) > width {
		return &FieldError{Err: ErrBufferTooSmall, Offset: off, Required: len(data)}
	}
	if err := fits(b, off, width); err != nil {
		return err
	}
	copy(b[off:], data)
	return nil
}

// PutIPv4 writes the address octets at off in reverse order of their
// dotted notation (127.0.0.1 is written 01 00 00 7F).
func PutIPv4(b []byte, off int, addr netip.Addr) error {
	addr = addr.Unmap()
	if !addr.Is4() {
		return &FieldError{Err: ErrInvalidAddress, Offset: off, Required: 4}
	}
	if err := fits(b, off, 4); err != nil {
		return err
	}
	octets := addr.As4()
	for i := 0; i < 4; i++ {
		b[off+i] = octets[3-i]
	}
	return nil
}

// IPv4At reads an address written by PutIPv4.
func IPv4At(b []byte, off int) netip.Addr {
	if off < 0 || len(b) < off+4 {
		return netip.Addr{}
	}
	return netip.AddrFrom4([4]byte{b[off+3], b[off+2], b[off+1], b[off]})
}
