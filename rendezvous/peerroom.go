package rendezvous

import (
	"log"
	"net/netip"

	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/metrics"
	"github.com/Meander-Cloud/go-rendezvous/packet"
)

// room handles a room command. Each command is honored only from the
// connection type that legitimately sends it.
//
// invoked on arbiter goroutine
func (x *Peer) room(conn *Connection, r *packet.Reader) {
	cmd, err := m.DecodeRoomCommand(r)
	if err != nil {
		x.metrics.Drop(metrics.DropMalformed)
		return
	}
	x.metrics.Command(cmd)

	if x.c.LogDebug {
		log.Printf("%s: %s from %s", x.c.LogPrefix, cmd, conn)
	}

	var want m.ConnectionType
	switch cmd {
	case m.RoomCommandUpdate:
		want = m.ConnectionTypeServer
	case m.RoomCommandGetRoom,
		m.RoomCommandGetRoomsPage,
		m.RoomCommandAuth,
		m.RoomCommandConnect:
		want = m.ConnectionTypeMaster
	default:
		// Create, Destroy, Join and Accept only flow toward the master
		x.metrics.Drop(metrics.DropMalformed)
		return
	}
	if conn.typ != want || conn.Status() != m.ConnectionStatusConnected {
		x.metrics.Drop(metrics.DropInvalidState)
		return
	}

	switch cmd {
	case m.RoomCommandUpdate:
		msg, _ := m.DecodeRoomAttributes(r)
		x.h.RoomOperation(m.RoomOperationUpdate, newRoom(RoomID(conn.addr), conn.addr, msg.Attributes))

	case m.RoomCommandGetRoom:
		msg, err := m.DecodeRoomInfo(r)
		if err != nil {
			x.metrics.Drop(metrics.DropMalformed)
			return
		}
		x.h.Room(newRoom(msg.ID, netip.AddrPort{}, msg.Attributes))

	case m.RoomCommandGetRoomsPage:
		msg, err := m.DecodeRoomsPage(r)
		if err != nil {
			x.metrics.Drop(metrics.DropMalformed)
			return
		}
		if msg.RequestID == 0 || msg.RequestID != x.roomsPageReqID || msg.Page == 0 || len(msg.IDs) == 0 {
			// superseded or empty
			x.metrics.Drop(metrics.DropInvalidState)
			return
		}
		x.h.RoomsPage(msg.IDs, msg.Page, msg.Pages)

	case m.RoomCommandAuth:
		x.roomAuth(conn, r)

	case m.RoomCommandConnect:
		x.roomConnect(r)
	}
}
