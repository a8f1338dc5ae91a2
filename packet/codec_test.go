package packet

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_StringSentinel(t *testing.T) {
	r := NewReader(nil)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "", s)

	_, err = r.ReadUint8()
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestWriterReader_Sequence(t *testing.T) {
	addr := netip.MustParseAddrPort("198.51.100.20:50000")

	w := NewWriter()
	w.WriteUint8(96)
	w.WriteString("room")
	w.WriteAddr(addr)
	w.WriteUint16(0xbeef)

	r := NewReader(w.Bytes())

	b, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(96), b)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "room", s)

	a, err := r.ReadAddr()
	require.NoError(t, err)
	assert.Equal(t, addr, a)

	u, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xbeef), u)
	assert.Equal(t, 0, r.Len())
}

func TestWriter_MappedAddrWrittenAsIPv4(t *testing.T) {
	mapped := netip.AddrPortFrom(netip.MustParseAddr("::ffff:192.0.2.1"), 7000)

	w := NewWriter()
	w.WriteAddr(mapped)
	assert.Equal(t, 1+4+2, w.Len())

	a, err := NewReader(w.Bytes()).ReadAddr()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("192.0.2.1:7000"), a)
}
