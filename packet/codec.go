package packet

import (
	"encoding/binary"
	"errors"
	"math"
	"net/netip"

	"github.com/multiformats/go-varint"
)

var (
	ErrTruncated    = errors.New("packet: truncated input")
	ErrMalformed    = errors.New("packet: malformed input")
	ErrDuplicateKey = errors.New("packet: duplicate key")
)

const (
	familyIPv4 byte = 4
	familyIPv6 byte = 6
)

// Writer appends little-endian primitives to a growing buffer.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{
		buf: make([]byte, 0, 64),
	}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Write(p []byte) {
	w.buf = append(w.buf, p...)
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteInt8(v int8) {
	w.WriteUint8(uint8(v))
}

func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

// WriteString writes a uvarint byte length followed by the raw bytes.
func (w *Writer) WriteString(v string) {
	w.buf = append(w.buf, varint.ToUvarint(uint64(len(v)))...)
	w.buf = append(w.buf, v...)
}

// WriteAddr writes family, address bytes and port. IPv4-mapped IPv6
// addresses are written as IPv4.
func (w *Writer) WriteAddr(v netip.AddrPort) {
	addr := v.Addr().Unmap()
	if addr.Is4() {
		w.WriteUint8(familyIPv4)
		b := addr.As4()
		w.Write(b[:])
	} else {
		w.WriteUint8(familyIPv6)
		b := addr.As16()
		w.Write(b[:])
	}
	w.WriteUint16(v.Port())
}

// Reader consumes primitives written by Writer.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{
		buf: b,
		off: 0,
	}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.off
}

// Rest returns the unread bytes without consuming them.
func (r *Reader) Rest() []byte {
	return r.buf[r.off:]
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		r.off = len(r.buf)
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

// ReadString returns an empty string and no error when the reader is
// already exhausted. Callers use this as the end-of-input sentinel.
func (r *Reader) ReadString() (string, error) {
	if r.Len() == 0 {
		return "", nil
	}

	n, size, err := varint.FromUvarint(r.buf[r.off:])
	if err != nil {
		r.off = len(r.buf)
		if errors.Is(err, varint.ErrUnderflow) {
			return "", ErrTruncated
		}
		return "", ErrMalformed
	}
	r.off += size

	if n > uint64(r.Len()) {
		r.off = len(r.buf)
		return "", ErrTruncated
	}

	b, err := r.next(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadAddr() (netip.AddrPort, error) {
	family, err := r.ReadUint8()
	if err != nil {
		return netip.AddrPort{}, err
	}

	var addr netip.Addr
	switch family {
	case familyIPv4:
		b, err := r.next(4)
		if err != nil {
			return netip.AddrPort{}, err
		}
		addr = netip.AddrFrom4([4]byte(b))
	case familyIPv6:
		b, err := r.next(16)
		if err != nil {
			return netip.AddrPort{}, err
		}
		addr = netip.AddrFrom16([16]byte(b))
	default:
		r.off = len(r.buf)
		return netip.AddrPort{}, ErrMalformed
	}

	port, err := r.ReadUint16()
	if err != nil {
		return netip.AddrPort{}, err
	}

	return netip.AddrPortFrom(addr, port), nil
}
