package message

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-rendezvous/packet"
)

func decodeRoom(t *testing.T, b []byte, want RoomCommand) *packet.Reader {
	t.Helper()

	dataType, r, err := DecodeHeader(b)
	require.NoError(t, err)
	require.Equal(t, DataTypeRoom, dataType)

	cmd, err := DecodeRoomCommand(r)
	require.NoError(t, err)
	require.Equal(t, want, cmd)

	return r
}

func TestRoomConnect(t *testing.T) {
	host := netip.MustParseAddrPort("203.0.113.9:40000")
	b := (&RoomConnect{ID: "ABC", Host: host, Token: "T0K"}).Encode()

	m, err := DecodeRoomConnect(decodeRoom(t, b, RoomCommandConnect))
	require.NoError(t, err)
	assert.Equal(t, "ABC", m.ID)
	assert.Equal(t, host, m.Host)
	assert.Equal(t, "T0K", m.Token)
}

func TestRoomConnect_Truncated(t *testing.T) {
	b := (&RoomConnect{ID: "ABC", Host: netip.MustParseAddrPort("203.0.113.9:40000"), Token: "T0K"}).Encode()

	_, err := DecodeRoomConnect(decodeRoom(t, b[:len(b)-4], RoomCommandConnect))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRoomsPage(t *testing.T) {
	b := (&RoomsPage{RequestID: 7, Page: 3, Pages: 3, IDs: []string{"a", "b"}}).Encode()

	m, err := DecodeRoomsPage(decodeRoom(t, b, RoomCommandGetRoomsPage))
	require.NoError(t, err)
	assert.Equal(t, uint8(7), m.RequestID)
	assert.Equal(t, uint8(3), m.Page)
	assert.Equal(t, uint8(3), m.Pages)
	assert.Equal(t, []string{"a", "b"}, m.IDs)

	// count claims more ids than present
	_, err = DecodeRoomsPage(decodeRoom(t, b[:len(b)-2], RoomCommandGetRoomsPage))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRoomsPageRequest(t *testing.T) {
	filter := packet.New().SetString("mode", "ffa")
	b := (&RoomsPageRequest{RequestID: 1, Page: 2, Size: PageSize10, Filter: filter}).Encode()

	m, err := DecodeRoomsPageRequest(decodeRoom(t, b, RoomCommandGetRoomsPage))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), m.Page)
	assert.Equal(t, PageSize10, m.Size)
	assert.Equal(t, "ffa", m.Filter.GetString("mode"))
}

func TestRoomUpdate_AndAttributesShareCommand(t *testing.T) {
	attrs := packet.New().SetInt32("slots", 8)

	m, err := DecodeRoomUpdate(decodeRoom(t, (&RoomUpdate{Type: RoomUpdateTypeAdditive, Attributes: attrs}).Encode(), RoomCommandUpdate))
	require.NoError(t, err)
	assert.Equal(t, RoomUpdateTypeAdditive, m.Type)
	assert.Equal(t, int32(8), m.Attributes.GetInt32("slots"))

	a, err := DecodeRoomAttributes(decodeRoom(t, (&RoomAttributes{Attributes: attrs}).Encode(), RoomCommandUpdate))
	require.NoError(t, err)
	assert.Equal(t, int32(8), a.Attributes.GetInt32("slots"))
}

func TestData(t *testing.T) {
	dataType, r, err := DecodeHeader(EncodeData(packet.New().SetString("msg", "hi")))
	require.NoError(t, err)
	assert.Equal(t, DataTypeData, dataType)
	assert.Equal(t, "hi", packet.Decode(r).GetString("msg"))

	_, _, err = DecodeHeader(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestJoinHello(t *testing.T) {
	b := (&JoinHello{Token: "T0K", Attributes: packet.New().SetString("name", "bob")}).Encode()

	m, err := DecodeJoinHello(b)
	require.NoError(t, err)
	assert.Equal(t, "T0K", m.Token)
	assert.Equal(t, "bob", m.Attributes.GetString("name"))

	_, err = DecodeJoinHello(nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEnums(t *testing.T) {
	assert.True(t, PageSize25.Valid())
	assert.False(t, PageSize(7).Valid())
	assert.True(t, DeliveryReliableSequenced.Reliable())
	assert.False(t, DeliveryUnreliableSequenced.Reliable())
	assert.False(t, Delivery(3).Valid())
	assert.False(t, Channel(32).Valid())
	assert.Equal(t, "GetRoomsPage", RoomCommandGetRoomsPage.String())
	assert.True(t, ConnectionStatusConnecting.Active())
	assert.False(t, ConnectionStatusDisconnecting.Active())
}
