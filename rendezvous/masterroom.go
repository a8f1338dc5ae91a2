package rendezvous

import (
	"log"
	"math"

	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/metrics"
	"github.com/Meander-Cloud/go-rendezvous/packet"
)

// invoked on arbiter goroutine
func (x *Master) room(conn *Connection, r *packet.Reader) {
	if conn.Status() != m.ConnectionStatusConnected {
		x.metrics.Drop(metrics.DropInvalidState)
		return
	}

	cmd, err := m.DecodeRoomCommand(r)
	if err != nil {
		x.metrics.Drop(metrics.DropMalformed)
		return
	}
	x.metrics.Command(cmd)

	if x.c.LogDebug {
		log.Printf("%s: %s from %s", x.c.LogPrefix, cmd, conn)
	}

	switch cmd {
	case m.RoomCommandCreate:
		x.roomCreate(conn, r)
	case m.RoomCommandUpdate:
		x.roomUpdate(conn, r)
	case m.RoomCommandDestroy:
		x.roomDestroy(conn)
	case m.RoomCommandGetRoom:
		x.roomGet(conn, r)
	case m.RoomCommandGetRoomsPage:
		x.roomGetPage(conn, r)
	case m.RoomCommandJoin:
		x.roomJoin(conn, r)
	case m.RoomCommandAccept:
		x.roomAccept(conn, r)
	default:
		// Auth and Connect only flow from the master
		x.metrics.Drop(metrics.DropMalformed)
	}
}

func (x *Master) ownedRoom(conn *Connection) *Room {
	if conn.RoomID() == "" {
		return nil
	}
	room, found := x.rooms.Find(func(r *Room) bool {
		return r.owner == conn.addr
	})
	if !found {
		return nil
	}
	return room
}

func (x *Master) allowQuery(conn *Connection) bool {
	if conn.limiter == nil || conn.limiter.AllowN(x.clock.Now(), 1) {
		return true
	}
	x.metrics.Drop(metrics.DropRateLimited)
	return false
}

func (x *Master) roomCreate(conn *Connection, r *packet.Reader) {
	msg, _ := m.DecodeRoomCreate(r)

	if conn.RoomID() != "" {
		// one room per owner
		x.metrics.Drop(metrics.DropInvalidState)
		return
	}

	room := newRoom(RoomID(conn.addr), conn.addr, msg.Attributes)
	if !x.rooms.Add(room) {
		x.metrics.Drop(metrics.DropInvalidState)
		return
	}
	conn.setRoomID(room.id)
	x.refreshGauges()

	log.Printf("%s: %s created by %s, attrs=%s", x.c.LogPrefix, room, conn, room.Attributes())
	x.h.RoomOperation(m.RoomOperationCreate, room)
}

func (x *Master) roomUpdate(conn *Connection, r *packet.Reader) {
	room := x.ownedRoom(conn)
	if room == nil {
		x.metrics.Drop(metrics.DropInvalidState)
		return
	}

	msg, err := m.DecodeRoomUpdate(r)
	if err != nil {
		x.metrics.Drop(metrics.DropMalformed)
		return
	}

	if !room.apply(msg.Type, msg.Attributes) {
		x.metrics.Drop(metrics.DropMalformed)
		return
	}

	x.h.RoomOperation(m.RoomOperationUpdate, room)
}

func (x *Master) roomDestroy(conn *Connection) {
	room := x.ownedRoom(conn)
	if room == nil {
		x.metrics.Drop(metrics.DropInvalidState)
		return
	}

	x.rooms.Remove(room)
	conn.setRoomID("")
	x.refreshGauges()

	log.Printf("%s: %s destroyed by %s", x.c.LogPrefix, room, conn)
	x.h.RoomOperation(m.RoomOperationDestroy, room)
}

func (x *Master) roomGet(conn *Connection, r *packet.Reader) {
	if !x.allowQuery(conn) {
		return
	}

	msg, err := m.DecodeRoomGet(r)
	if err != nil {
		x.metrics.Drop(metrics.DropMalformed)
		return
	}

	room, found := x.FindRoom(msg.ID)
	if !found {
		// no negative acknowledgement
		x.metrics.Drop(metrics.DropUnknownRoom)
		return
	}

	reply := &m.RoomInfo{
		ID:         room.id,
		Attributes: room.Attributes(),
	}
	x.sendRoom(conn, m.DeliveryReliableOrdered, m.ChannelRoom, reply.Encode())
}

func (x *Master) roomGetPage(conn *Connection, r *packet.Reader) {
	if !x.allowQuery(conn) {
		return
	}

	msg, err := m.DecodeRoomsPageRequest(r)
	if err != nil || msg.RequestID == 0 || msg.Page == 0 || !msg.Size.Valid() {
		x.metrics.Drop(metrics.DropMalformed)
		return
	}

	matched := x.rooms.Filter(func(room *Room) bool {
		return room.Attributes().Contains(msg.Filter)
	})
	ids := make([]string, 0, len(matched))
	for _, room := range matched {
		ids = append(ids, room.id)
	}

	page, pages, slice := paginate(ids, msg.Page, msg.Size)
	if pages == 0 {
		// nothing matched, the requester applies its own timeout
		return
	}

	reply := &m.RoomsPage{
		RequestID: msg.RequestID,
		Page:      page,
		Pages:     pages,
		IDs:       slice,
	}
	x.sendRoom(conn, m.DeliveryReliableSequenced, m.ChannelRoomsPage, reply.Encode())
}

// paginate clamps page to the last page and returns its 1-indexed slice.
// pages is 0 when ids is empty.
func paginate(ids []string, page uint8, size m.PageSize) (uint8, uint8, []string) {
	if len(ids) == 0 || page == 0 || size == 0 {
		return 0, 0, nil
	}

	total := (len(ids) + int(size) - 1) / int(size)
	if total > math.MaxUint8 {
		total = math.MaxUint8
	}
	if int(page) > total {
		page = uint8(total)
	}

	start := (int(page) - 1) * int(size)
	end := min(start+int(size), len(ids))
	return page, uint8(total), ids[start:end]
}

func (x *Master) roomJoin(conn *Connection, r *packet.Reader) {
	msg, err := m.DecodeRoomJoin(r)
	if err != nil {
		x.metrics.Drop(metrics.DropMalformed)
		return
	}

	room, found := x.FindRoom(msg.ID)
	if !found {
		x.metrics.Drop(metrics.DropUnknownRoom)
		return
	}
	if room.owner == conn.addr {
		x.metrics.Drop(metrics.DropInvalidState)
		return
	}

	owner, found := x.FindConnection(room.owner)
	if !found || owner.Status() != m.ConnectionStatusConnected {
		x.metrics.Drop(metrics.DropInvalidState)
		return
	}

	auth := &m.RoomAuth{
		Requester: conn.addr,
	}
	x.sendRoom(owner, m.DeliveryReliableOrdered, m.ChannelRoom, auth.Encode())
}

func (x *Master) roomAccept(conn *Connection, r *packet.Reader) {
	room := x.ownedRoom(conn)
	if room == nil {
		x.metrics.Drop(metrics.DropInvalidState)
		return
	}

	msg, err := m.DecodeRoomAccept(r)
	if err != nil {
		x.metrics.Drop(metrics.DropMalformed)
		return
	}

	requester, found := x.FindConnection(msg.Requester)
	if !found || requester.Status() != m.ConnectionStatusConnected {
		x.metrics.Drop(metrics.DropUnknownConn)
		return
	}

	connect := &m.RoomConnect{
		ID:    room.id,
		Host:  conn.addr,
		Token: msg.Token,
	}
	x.sendRoom(requester, m.DeliveryReliableOrdered, m.ChannelRoom, connect.Encode())
}
