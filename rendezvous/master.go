package rendezvous

import (
	"log"
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"github.com/Meander-Cloud/go-rendezvous/config"
	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/metrics"
	"github.com/Meander-Cloud/go-rendezvous/net/transport"
	"github.com/Meander-Cloud/go-rendezvous/packet"
	"github.com/Meander-Cloud/go-rendezvous/registry"
)

// Master is the well-known rendezvous node. It tracks connected peers and
// the rooms they host, and brokers joins between them.
type Master struct {
	*node

	connections *registry.Registry[*Connection]
	rooms       *registry.Registry[*Room]
}

func NewMaster(c *config.Config, h Handler, opts ...Option) (*Master, error) {
	n, err := newNode(c, h, opts)
	if err != nil {
		return nil, err
	}

	return &Master{
		node:        n,
		connections: registry.New(sameConnection),
		rooms:       registry.New(sameRoom),
	}, nil
}

func (x *Master) Start() error {
	return x.start(x)
}

// Shutdown closes every session and stops the dispatch goroutine.
func (x *Master) Shutdown() error {
	return x.shutdown(func() {
		x.rooms.Clear()
		x.connections.Clear()
		x.refreshGauges()
	})
}

// Connections returns the latest snapshot. Callers must not modify it.
func (x *Master) Connections() []*Connection {
	return x.connections.Snapshot()
}

// Rooms returns the latest snapshot. Callers must not modify it.
func (x *Master) Rooms() []*Room {
	return x.rooms.Snapshot()
}

func (x *Master) FindConnection(addr netip.AddrPort) (*Connection, bool) {
	return x.connections.Find(func(c *Connection) bool {
		return c.addr == addr
	})
}

func (x *Master) FindRoom(id string) (*Room, bool) {
	return x.rooms.Find(func(r *Room) bool {
		return r.id == id
	})
}

// Disconnect closes conn. A nil reason or one without a Reason field
// is sent as "Master closed the connection".
func (x *Master) Disconnect(conn *Connection, reason *packet.Packet) error {
	return x.disconnect(conn, reason, reasonMasterClosed)
}

func (x *Master) SendTo(conn *Connection, delivery m.Delivery, p *packet.Packet, channel m.Channel) error {
	return x.send(conn, delivery, p, channel)
}

func (x *Master) SendToMany(conns []*Connection, delivery m.Delivery, p *packet.Packet, channel m.Channel) error {
	return x.sendMany(conns, delivery, p, channel)
}

func (x *Master) SendToAll(delivery m.Delivery, p *packet.Packet, channel m.Channel) error {
	return x.sendMany(x.connections.Snapshot(), delivery, p, channel)
}

func (x *Master) refreshGauges() {
	x.metrics.SetConnections(x.connections.Len())
	x.metrics.SetRooms(x.rooms.Len())
}

func (x *Master) lookup(l transport.Link) *Connection {
	conn, found := x.connections.Find(func(c *Connection) bool {
		return c.link == l
	})
	if !found {
		return nil
	}
	return conn
}

// invoked on arbiter goroutine
func (x *Master) approval(l transport.Link, hello []byte) {
	if registered(x.connections, m.ConnectionTypeClient, l.RemoteAddr()) {
		// a stale session from the same address is still registered
		x.deny(l, EncodeReason(nil, ReasonLoginRefused))
		return
	}

	conn := x.login(l, m.ConnectionTypeClient, packet.Deserialize(hello))
	if conn == nil {
		return
	}

	if x.c.RoomQueryRate != 0 {
		conn.limiter = rate.NewLimiter(rate.Limit(x.c.RoomQueryRate), int(x.c.RoomQueryBurst))
	}

	if !x.connections.Add(conn) {
		x.deny(l, EncodeReason(nil, ReasonLoginRefused))
		return
	}
	x.refreshGauges()

	x.approve(conn)
}

// invoked on arbiter goroutine
func (x *Master) status(l transport.Link, status m.ConnectionStatus, reason string) {
	conn := x.lookup(l)
	if conn == nil {
		if status == m.ConnectionStatusConnected {
			l.Disconnect(ReasonNotFound)
		}
		return
	}

	switch status {
	case m.ConnectionStatusConnected:
		conn.setStatus(m.ConnectionStatusConnected)
		log.Printf("%s: %s connected", x.c.LogPrefix, conn)
		x.h.Connect(conn)

	case m.ConnectionStatusDisconnected:
		x.connections.Remove(conn)

		// a room never outlives its owner
		room, found := x.rooms.TakeFunc(func(r *Room) bool {
			return r.owner == conn.addr
		})
		conn.setRoomID("")
		conn.setStatus(m.ConnectionStatusDisconnected)
		x.refreshGauges()

		if found {
			log.Printf("%s: %s destroyed with its owner %s", x.c.LogPrefix, room, conn)
			x.h.RoomOperation(m.RoomOperationDestroy, room)
		}

		p := DecodeReason(reason)
		log.Printf("%s: %s disconnected, reason=%s", x.c.LogPrefix, conn, p.GetString(KeyReason))
		x.h.Disconnect(conn, p)
	}
}

// invoked on arbiter goroutine
func (x *Master) data(l transport.Link, delivery m.Delivery, channel m.Channel, payload []byte) {
	conn := x.lookup(l)
	if conn == nil {
		x.metrics.Drop(metrics.DropUnknownConn)
		l.Disconnect(ReasonNotFound)
		return
	}

	dataType, r, err := m.DecodeHeader(payload)
	if err != nil {
		x.metrics.Drop(metrics.DropMalformed)
		return
	}

	switch dataType {
	case m.DataTypeRoom:
		if delivery != m.DeliveryReliableOrdered && delivery != m.DeliveryReliableSequenced {
			x.metrics.Drop(metrics.DropMalformed)
			return
		}
		x.room(conn, r)
	case m.DataTypeData:
		x.h.Data(conn, delivery, packet.Decode(r), channel)
	default:
		x.metrics.Drop(metrics.DropMalformed)
	}
}

// invoked on arbiter goroutine
func (x *Master) latency(l transport.Link, rtt time.Duration) {
	conn := x.lookup(l)
	if conn == nil {
		return
	}
	conn.setLatency(rtt)
	x.h.Latency(conn, rtt)
}
