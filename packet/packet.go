// Package packet implements the length-framed binary messages ("packets")
// exchanged between game clients and servers.
//
// A frame is a 2-byte little-endian size header (counting itself) followed
// by the payload. Packets are value-like: they move from the sender's queue
// onto the wire, and from the wire into exactly one in-progress inbound
// packet on the receiver.
package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// HeaderSize is the number of bytes taken by the size header.
const HeaderSize = 2

// DefaultLimit is the largest frame (header included) a peer may declare.
const DefaultLimit = 32767

var (
	ErrPacketTooLarge = errors.New("packet exceeds size limit")
	ErrMalformedSize  = errors.New("malformed packet size header")
	ErrPacketTooShort = errors.New("read past end of packet")
)

type Packet struct {
	buf []byte
	// pos is the transfer cursor: the next unsent byte on an outbound
	// packet, the next unread byte on a completed inbound packet.
	pos int

	// Inbound reassembly state.
	filled int
	sized  bool

	limit int
}

// New returns an empty outbound packet. Writers fail once the frame would
// exceed limit (header included).
func New(limit int) *Packet {
	return &Packet{
		buf:   make([]byte, HeaderSize, HeaderSize+32),
		limit: limit,
	}
}

// Size is the current frame size, header included.
func (p *Packet) Size() int { return len(p.buf) }

// Bytes is the raw frame. Only meaningful on outbound packets after Seal,
// and on completed inbound packets.
func (p *Packet) Bytes() []byte { return p.buf }

func (p *Packet) checkWrite(n int) error {
	if len(p.buf)+n > p.limit {
		return ErrPacketTooLarge
	}
	return nil
}

func (p *Packet) WriteUint8(v uint8) error {
	if err := p.checkWrite(1); err != nil {
		return err
	}
	p.buf = append(p.buf, v)
	return nil
}

func (p *Packet) WriteUint16(v uint16) error {
	if err := p.checkWrite(2); err != nil {
		return err
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, v)
	return nil
}

func (p *Packet) WriteUint32(v uint32) error {
	if err := p.checkWrite(4); err != nil {
		return err
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
	return nil
}

func (p *Packet) WriteUint64(v uint64) error {
	if err := p.checkWrite(8); err != nil {
		return err
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
	return nil
}

func (p *Packet) WriteBytes(b []byte) error {
	if err := p.checkWrite(len(b)); err != nil {
		return err
	}
	p.buf = append(p.buf, b...)
	return nil
}

// WriteString appends s NUL-terminated.
func (p *Packet) WriteString(s string) error {
	if err := p.checkWrite(len(s) + 1); err != nil {
		return err
	}
	p.buf = append(p.buf, s...)
	p.buf = append(p.buf, 0)
	return nil
}

// Seal stamps the size header and rewinds the transfer cursor. A packet
// must be sealed before it is handed to the transport; sealing an already
// partially sent packet would duplicate bytes on the wire.
func (p *Packet) Seal() {
	binary.LittleEndian.PutUint16(p.buf[:HeaderSize], uint16(len(p.buf)))
	p.pos = 0
}

// Unsent is the part of the frame not yet accepted by the transport.
func (p *Packet) Unsent() []byte { return p.buf[p.pos:] }

// MarkSent advances the transfer cursor past n accepted bytes.
func (p *Packet) MarkSent(n int) { p.pos += n }

// NewInbound returns a packet ready to reassemble one frame from the wire.
func NewInbound(limit int) *Packet {
	return &Packet{
		buf:   make([]byte, HeaderSize),
		limit: limit,
	}
}

// Writable is the region the next received bytes belong in: the rest of the
// header first, then the rest of the declared frame. Empty once complete.
func (p *Packet) Writable() []byte { return p.buf[p.filled:] }

// Advance accounts for n bytes received into Writable. When the header
// completes, the declared size is validated and the buffer grows to it.
func (p *Packet) Advance(n int) error {
	p.filled += n

	if p.sized || p.filled < HeaderSize {
		return nil
	}

	size := int(binary.LittleEndian.Uint16(p.buf[:HeaderSize]))
	if size < HeaderSize || size > p.limit {
		return ErrMalformedSize
	}

	p.sized = true
	if size > len(p.buf) {
		grown := make([]byte, size)
		copy(grown, p.buf)
		p.buf = grown
	}

	return nil
}

// Complete reports whether the declared frame length is fully satisfied.
func (p *Packet) Complete() bool {
	return p.sized && p.filled == len(p.buf)
}

// PrepareToRead positions the cursor on the first payload byte.
func (p *Packet) PrepareToRead() { p.pos = HeaderSize }

// Remaining is the number of bytes left under the cursor: unsent bytes on
// an outbound packet, unread payload on an inbound one.
func (p *Packet) Remaining() int { return len(p.buf) - p.pos }

func (p *Packet) checkRead(n int) error {
	if p.pos+n > len(p.buf) {
		return ErrPacketTooShort
	}
	return nil
}

func (p *Packet) ReadUint8() (uint8, error) {
	if err := p.checkRead(1); err != nil {
		return 0, err
	}
	v := p.buf[p.pos]
	p.pos++
	return v, nil
}

func (p *Packet) ReadUint16() (uint16, error) {
	if err := p.checkRead(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(p.buf[p.pos:])
	p.pos += 2
	return v, nil
}

func (p *Packet) ReadUint32() (uint32, error) {
	if err := p.checkRead(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v, nil
}

func (p *Packet) ReadUint64() (uint64, error) {
	if err := p.checkRead(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v, nil
}

func (p *Packet) ReadBytes(n int) ([]byte, error) {
	if err := p.checkRead(n); err != nil {
		return nil, err
	}
	v := p.buf[p.pos : p.pos+n]
	p.pos += n
	return v, nil
}

// ReadString reads up to the next NUL terminator.
func (p *Packet) ReadString() (string, error) {
	end := bytes.IndexByte(p.buf[p.pos:], 0)
	if end < 0 {
		return "", ErrPacketTooShort
	}
	s := string(p.buf[p.pos : p.pos+end])
	p.pos += end + 1
	return s, nil
}
