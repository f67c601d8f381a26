package protocol

import (
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/korean"
)

// Supported client charsets for string fields.
const (
	CharsetUTF8  = "utf-8"
	CharsetEUCKR = "euc-kr"
)

// Codec translates between wire bytes and Packets. The zero value is not
// usable; use NewCodec or the package-level Decode/Encode (UTF-8).
type Codec struct {
	charset string
	enc     encoding.Encoding // nil means UTF-8
}

var defaultCodec = &Codec{charset: CharsetUTF8}

// NewCodec returns a codec whose string fields use the named charset.
// An empty name selects UTF-8.
func NewCodec(charset string) (*Codec, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", CharsetUTF8, "utf8":
		return &Codec{charset: CharsetUTF8}, nil
	case CharsetEUCKR, "euckr", "cp949", "uhc":
		return &Codec{charset: CharsetEUCKR, enc: korean.EUCKR}, nil
	default:
		return nil, fmt.Errorf("unsupported client charset %q", charset)
	}
}

// Charset returns the canonical charset name.
func (c *Codec) Charset() string {
	return c.charset
}

// Decode parses buf with the UTF-8 codec.
func Decode(buf []byte) (Packet, error) {
	return defaultCodec.Decode(buf)
}

// Encode serializes p into buf with the UTF-8 codec.
func Encode(p Packet, buf []byte) (int, error) {
	return defaultCodec.Encode(p, buf)
}

// Decode maps buf to a client-originated Packet based on its type tag.
// buf is never modified and the result does not reference it.
func (c *Codec) Decode(buf []byte) (Packet, error) {
	if len(buf) < TypeSize {
		return nil, &PacketError{Err: ErrInvalidLength, Field: "type"}
	}

	packetType := Int16At(buf, 0)

	switch packetType {
	case TypeLoginRequest:
		return c.decodeLoginRequest(buf)
	case TypeEnterRequest:
		return c.decodeEnterRequest(buf)
	default:
		return nil, unknownPacket(packetType)
	}
}

// decodeLoginRequest handles packet 0x64.
// Format: [type:2][version:4][userid:24][password:24][clienttype:1]
func (c *Codec) decodeLoginRequest(buf []byte) (Packet, error) {
	if len(buf) < LoginRequestSize {
		return nil, invalidLength(TypeLoginRequest)
	}

	return LoginRequest{
		Version:    Uint32At(buf, 2),
		UserID:     c.stringAt(buf, 6, 6+UserIDSize, false),
		Password:   c.stringAt(buf, 30, 30+PasswordSize, false),
		ClientType: Uint8At(buf, 54),
	}, nil
}

// decodeEnterRequest handles packet 0x65.
// Format: [type:2][account_id:4][auth_code:4][user_level:4][clienttype:2][sex:var]
func (c *Codec) decodeEnterRequest(buf []byte) (Packet, error) {
	if len(buf) < EnterRequestMinSize {
		return nil, invalidLength(TypeEnterRequest)
	}

	return EnterRequest{
		AccountID:  Uint32At(buf, 2),
		AuthCode:   Int32At(buf, 6),
		UserLevel:  Uint32At(buf, 10),
		ClientType: Int16At(buf, 14),
		Sex:        c.stringAt(buf, 16, len(buf), false),
	}, nil
}

func (c *Codec) stringAt(b []byte, start, end int, trim bool) string {
	if c.enc == nil {
		return StringAt(b, start, end, trim)
	}
	region := window(b, start, end)
	decoded, err := c.enc.NewDecoder().Bytes(region)
	if err != nil {
		return StringAt(b, start, end, trim)
	}
	return trimString(string(decoded), trim)
}

// Encode writes a server-originated packet into buf at its fixed offsets
// and returns the number of bytes written. Bytes of string regions past
// the end of the string are not touched, so buf should be zeroed.
func (c *Codec) Encode(p Packet, buf []byte) (int, error) {
	switch pkt := p.(type) {
	case LoginAccepted:
		return c.encodeLoginAccepted(pkt, buf)
	case *LoginAccepted:
		return c.encodeLoginAccepted(*pkt, buf)
	case LoginRefused:
		return c.encodeLoginRefused(pkt, buf)
	case *LoginRefused:
		return c.encodeLoginRefused(*pkt, buf)
	case BanNotification:
		return encodeBanNotification(pkt, buf)
	case *BanNotification:
		return encodeBanNotification(*pkt, buf)
	case EnterAck:
		return encodeEnterAck(pkt, buf)
	case *EnterAck:
		return encodeEnterAck(*pkt, buf)
	case nil:
		return 0, &PacketError{Err: ErrUnknownPacketType}
	}

	if p.Direction() == ClientToServer {
		return 0, &PacketError{Err: ErrInvalidDirection, Type: p.PacketType()}
	}
	return 0, unknownPacket(p.PacketType())
}

// CheckServers reports whether servers can be sent in a LoginAccepted
// with this codec's charset.
func (c *Codec) CheckServers(servers []ServerDescriptor) error {
	p := LoginAccepted{Servers: servers}
	_, err := c.Encode(p, make([]byte, p.Size()))
	return err
}

// encodeLoginAccepted handles packet 0xAC4.
// Format: [type:2][length:2][auth_code:4][account_id:4][user_level:4]
//
//	[reserved:30][sex:1][reserved:17][servers: N * 160]
func (c *Codec) encodeLoginAccepted(p LoginAccepted, buf []byte) (int, error) {
	if len(p.Servers) > MaxServers {
		return 0, &PacketError{Err: ErrInvalidLength, Type: TypeLoginAccepted, Field: "servers"}
	}

	length := p.Size()
	if len(buf) < length {
		return 0, bufferTooSmall(TypeLoginAccepted, length)
	}

	w := fieldWriter{codec: c, buf: buf, packetType: TypeLoginAccepted}
	w.i16(0x00, TypeLoginAccepted)
	w.u16(0x02, uint16(length))
	w.i32(0x04, p.AuthCode)
	w.u32(0x08, p.AccountID)
	w.u32(0x0C, p.UserLevel)
	w.str("sex", 0x2E, 1, p.Sex.Char())

	for i, server := range p.Servers {
		base := LoginAcceptedHeaderSize + ServerDescriptorSize*i
		w.ip(fmt.Sprintf("servers[%d].ip", i), base, server.IP)
		w.u16(base+0x04, server.Port)
		w.str(fmt.Sprintf("servers[%d].name", i), base+0x06, ServerNameSize, server.Name)
		w.u16(base+0x1A, server.Users)
		w.u16(base+0x1C, uint16(server.Status))
		w.u16(base+0x1E, boolUint16(server.IsNew))
	}

	if w.err != nil {
		return 0, w.err
	}
	return length, nil
}

// encodeLoginRefused handles packet 0x6A.
// Format: [type:2][reason:1][block_date:20]
func (c *Codec) encodeLoginRefused(p LoginRefused, buf []byte) (int, error) {
	if len(buf) < LoginRefusedSize {
		return 0, bufferTooSmall(TypeLoginRefused, LoginRefusedSize)
	}

	w := fieldWriter{codec: c, buf: buf, packetType: TypeLoginRefused}
	w.i16(0, TypeLoginRefused)
	w.u8(2, uint8(p.Reason))
	if p.BlockDate != "" {
		w.str("block_date", 3, BlockDateSize, p.BlockDate)
	}

	if w.err != nil {
		return 0, w.err
	}
	return LoginRefusedSize, nil
}

// encodeBanNotification handles packet 0x81.
// Format: [type:2][reason:1]
func encodeBanNotification(p BanNotification, buf []byte) (int, error) {
	if len(buf) < BanNotificationSize {
		return 0, bufferTooSmall(TypeBanNotification, BanNotificationSize)
	}

	w := fieldWriter{buf: buf, packetType: TypeBanNotification}
	w.i16(0, TypeBanNotification)
	w.u8(2, uint8(p.Reason))
	return BanNotificationSize, w.err
}

// encodeEnterAck handles packet 0x6C.
// Format: [type:2][code:1]
func encodeEnterAck(p EnterAck, buf []byte) (int, error) {
	if len(buf) < EnterAckSize {
		return 0, bufferTooSmall(TypeEnterAck, EnterAckSize)
	}

	w := fieldWriter{buf: buf, packetType: TypeEnterAck}
	w.i16(0, TypeEnterAck)
	w.u8(2, p.Code)
	return EnterAckSize, w.err
}

func boolUint16(v bool) uint16 {
	if v {
		return 1
	}
	return 0
}

// fieldWriter writes fields at fixed offsets and keeps the first error.
type fieldWriter struct {
	codec      *Codec
	buf        []byte
	packetType int16
	err        error
}

func (w *fieldWriter) fail(field string, err error) {
	if w.err == nil && err != nil {
		w.err = fieldError(w.packetType, field, err)
	}
}

func (w *fieldWriter) u8(off int, v uint8) {
	w.fail("uint8", PutUint8(w.buf, off, v))
}

func (w *fieldWriter) i16(off int, v int16) {
	w.fail("int16", PutInt16(w.buf, off, v))
}

func (w *fieldWriter) u16(off int, v uint16) {
	w.fail("uint16", PutUint16(w.buf, off, v))
}

func (w *fieldWriter) i32(off int, v int32) {
	w.fail("int32", PutInt32(w.buf, off, v))
}

func (w *fieldWriter) u32(off int, v uint32) {
	w.fail("uint32", PutUint32(w.buf, off, v))
}

func (w *fieldWriter) ip(field string, off int, addr netip.Addr) {
	w.fail(field, PutIPv4(w.buf, off, addr))
}

func (w *fieldWriter) str(field string, off, width int, s string) {
	if w.err != nil {
		return
	}
	if w.codec == nil || w.codec.enc == nil {
		w.fail(field, PutString(w.buf, off, width, s))
		return
	}
	encoded, err := w.codec.enc.NewEncoder().String(s)
	if err != nil {
		w.fail(field, fmt.Errorf("encode %s: %w", w.codec.charset, err))
		return
	}
	w.fail(field, PutString(w.buf, off, width, encoded))
}
