package rendezvous

import (
	"net/netip"
	"time"

	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/packet"
)

// Handler receives the events of a Master or Peer. Every method is invoked
// on the node's dispatch goroutine and must not block.
type Handler interface {
	// Login decides an inbound handshake. A rejection carries an optional
	// reason Packet sent back to the requester.
	Login(conn *Connection, p *packet.Packet) (bool, *packet.Packet)

	Connect(conn *Connection)
	Latency(conn *Connection, rtt time.Duration)
	// reason always holds a Reason string field
	Disconnect(conn *Connection, reason *packet.Packet)

	// GetRoom reply
	Room(room *Room)
	// GetRoomsPage reply, page is 1-indexed
	RoomsPage(ids []string, page, pages uint8)
	RoomOperation(op m.RoomOperation, room *Room)

	Data(conn *Connection, delivery m.Delivery, p *packet.Packet, channel m.Channel)
	ForeignData(addr netip.AddrPort, data []byte)

	// err is nil on an orderly Shutdown, in which case it is invoked on
	// the goroutine calling Shutdown
	Terminate(err error)
}

// NopHandler accepts every login and ignores every event. Embed it to
// implement only the callbacks of interest.
type NopHandler struct{}

func (NopHandler) Login(*Connection, *packet.Packet) (bool, *packet.Packet) {
	return true, nil
}

func (NopHandler) Connect(*Connection) {

}

func (NopHandler) Latency(*Connection, time.Duration) {

}

func (NopHandler) Disconnect(*Connection, *packet.Packet) {

}

func (NopHandler) Room(*Room) {

}

func (NopHandler) RoomsPage([]string, uint8, uint8) {

}

func (NopHandler) RoomOperation(m.RoomOperation, *Room) {

}

func (NopHandler) Data(*Connection, m.Delivery, *packet.Packet, m.Channel) {

}

func (NopHandler) ForeignData(netip.AddrPort, []byte) {

}

func (NopHandler) Terminate(error) {

}
