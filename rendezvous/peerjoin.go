package rendezvous

import (
	"log"

	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/packet"
)

// JoinRoom asks the Master to broker a direct connection to room id.
// attrs is presented to the host's Login.
func (x *Peer) JoinRoom(id string, attrs *packet.Packet) error {
	if id == "" {
		return ErrInvalidRoomID
	}
	if attrs == nil {
		return ErrNilPacket
	}
	if x.hosting.Load() {
		return ErrAlreadyHosting
	}
	if server := x.server.Load(); server != nil && server.Status().Active() {
		return ErrAlreadyJoined
	}
	if x.connectedMaster() == nil {
		return ErrNotConnected
	}
	attrs = attrs.Clone()

	return x.dispatch(func() {
		// invoked on arbiter goroutine
		if x.hosting.Load() {
			return
		}
		if server := x.server.Load(); server != nil && server.Status().Active() {
			return
		}
		master := x.connectedMaster()
		if master == nil {
			return
		}

		x.targetRoomID = id
		x.joinPacket = attrs

		join := &m.RoomJoin{
			ID: id,
		}
		x.sendRoom(master, m.DeliveryReliableOrdered, m.ChannelRoom, join.Encode())
	})
}

// LeaveRoom abandons a pending join and leaves the joined host.
func (x *Peer) LeaveRoom() error {
	return x.dispatch(func() {
		// invoked on arbiter goroutine
		x.targetRoomID = ""
		x.joinPacket = nil

		server := x.server.Load()
		if server != nil && server.Status().Active() {
			x.disconnect(server, reasonPacket(ReasonLeft), reasonClientClosed)
		}
	})
}

// GetRoom asks the Master for one room. A reply arrives as Handler.Room;
// an unknown id gets none.
func (x *Peer) GetRoom(id string) error {
	if id == "" {
		return ErrInvalidRoomID
	}
	if x.connectedMaster() == nil {
		return ErrNotConnected
	}

	return x.dispatch(func() {
		// invoked on arbiter goroutine
		master := x.connectedMaster()
		if master == nil {
			return
		}

		get := &m.RoomGet{
			ID: id,
		}
		x.sendRoom(master, m.DeliveryReliableOrdered, m.ChannelRoom, get.Encode())
	})
}

// GetRoomsPage lists ids of rooms matching filter. Only the reply to the
// latest request is surfaced, as Handler.RoomsPage. No match gets no
// reply.
func (x *Peer) GetRoomsPage(filter *packet.Packet, page uint8, size m.PageSize) error {
	if page == 0 {
		return ErrInvalidPage
	}
	if !size.Valid() {
		return ErrInvalidPageSize
	}
	if x.connectedMaster() == nil {
		return ErrNotConnected
	}
	filter = filter.Clone()

	return x.dispatch(func() {
		// invoked on arbiter goroutine
		master := x.connectedMaster()
		if master == nil {
			return
		}

		x.roomsPageReqID++
		if x.roomsPageReqID == 0 {
			x.roomsPageReqID = 1
		}

		req := &m.RoomsPageRequest{
			RequestID: x.roomsPageReqID,
			Page:      page,
			Size:      size,
			Filter:    filter,
		}
		x.sendRoom(master, m.DeliveryReliableSequenced, m.ChannelRoomsPage, req.Encode())
	})
}

// roomConnect dials the host once the Master relays its token. Stale or
// unexpected relays are dropped.
//
// invoked on arbiter goroutine
func (x *Peer) roomConnect(r *packet.Reader) {
	msg, err := m.DecodeRoomConnect(r)
	if err != nil {
		return
	}

	if x.targetRoomID == "" || msg.ID != x.targetRoomID {
		log.Printf("%s: ignoring connect for room %s, target=%s", x.c.LogPrefix, msg.ID, x.targetRoomID)
		return
	}
	if server := x.server.Load(); server != nil && server.Status().Active() {
		return
	}

	joinPacket := x.joinPacket
	x.targetRoomID = ""
	x.joinPacket = nil

	hello := &m.JoinHello{
		Token:      msg.Token,
		Attributes: joinPacket,
	}
	l, err := x.t.Connect(msg.Host, hello.Encode())
	if err != nil {
		log.Printf("%s: failed to connect to host %s, err=%s", x.c.LogPrefix, msg.Host, err.Error())
		return
	}

	x.server.Store(newConnection(m.ConnectionTypeServer, l, joinPacket))
	x.refreshGauges()

	log.Printf("%s: joining room %s at %s", x.c.LogPrefix, msg.ID, msg.Host)
}
