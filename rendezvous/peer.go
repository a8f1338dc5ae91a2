package rendezvous

import (
	"log"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/Meander-Cloud/go-rendezvous/config"
	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/metrics"
	"github.com/Meander-Cloud/go-rendezvous/net/transport"
	"github.com/Meander-Cloud/go-rendezvous/packet"
	"github.com/Meander-Cloud/go-rendezvous/registry"
)

// Peer connects to a Master, may host one room, and may join another
// peer's room at the same time.
//
// Public methods validate against the latest published state and return
// synchronously. The action itself runs on the dispatch goroutine, which
// validates again, so a call racing a state change is dropped there.
type Peer struct {
	*node

	master  atomic.Pointer[Connection]
	server  atomic.Pointer[Connection]
	clients *registry.Registry[*Connection]
	auths   *registry.PendingAuths

	hosting   atomic.Bool
	roomAttrs atomic.Pointer[packet.Packet]

	// arbiter goroutine only
	targetRoomID   string
	joinPacket     *packet.Packet
	roomsPageReqID uint8
	sweepScheduled bool
}

func NewPeer(c *config.Config, h Handler, opts ...Option) (*Peer, error) {
	n, err := newNode(c, h, opts)
	if err != nil {
		return nil, err
	}

	return &Peer{
		node:    n,
		clients: registry.New(sameConnection),
		auths:   registry.NewPendingAuths(),
	}, nil
}

func (x *Peer) Start() error {
	return x.start(x)
}

// Shutdown closes every session and stops the dispatch goroutine.
func (x *Peer) Shutdown() error {
	return x.shutdown(func() {
		x.hosting.Store(false)
		x.roomAttrs.Store(nil)
		x.master.Store(nil)
		x.server.Store(nil)
		x.clients.Clear()
		x.auths.Clear()
		x.refreshGauges()
	})
}

// Master returns the master connection, nil when none.
func (x *Peer) Master() *Connection {
	return x.master.Load()
}

// Server returns the connection to the joined host, nil when none.
func (x *Peer) Server() *Connection {
	return x.server.Load()
}

// Clients returns the latest snapshot of joined clients. Callers must not
// modify it.
func (x *Peer) Clients() []*Connection {
	return x.clients.Snapshot()
}

func (x *Peer) PendingAuths() []registry.PendingAuth {
	return x.auths.Snapshot()
}

func (x *Peer) IsHosting() bool {
	return x.hosting.Load()
}

// RoomAttributes returns the hosted room's attributes, nil when not
// hosting. Callers must not modify them.
func (x *Peer) RoomAttributes() *packet.Packet {
	return x.roomAttrs.Load()
}

// Connect starts the master session. hello is the master's Login packet.
func (x *Peer) Connect(addr netip.AddrPort, hello *packet.Packet) error {
	if conn := x.master.Load(); conn != nil && conn.Status().Active() {
		return ErrAlreadyConnected
	}
	if hello == nil {
		hello = packet.New()
	}

	return x.dispatch(func() {
		// invoked on arbiter goroutine
		if x.master.Load() != nil {
			log.Printf("%s: master connection already present, ignoring connect to %s", x.c.LogPrefix, addr)
			return
		}

		l, err := x.t.Connect(addr, hello.Serialize())
		if err != nil {
			log.Printf("%s: failed to connect to master %s, err=%s", x.c.LogPrefix, addr, err.Error())
			return
		}
		x.master.Store(newConnection(m.ConnectionTypeMaster, l, hello))
	})
}

// Disconnect closes conn. A missing Reason defaults by connection type.
func (x *Peer) Disconnect(conn *Connection, reason *packet.Packet) error {
	if conn == nil {
		return ErrNotConnected
	}

	var fallback string
	switch conn.typ {
	case m.ConnectionTypeServer:
		fallback = reasonClientClosed
	case m.ConnectionTypeClient:
		fallback = reasonServerClosed
	default:
		fallback = reasonPeerClosed
	}
	return x.disconnect(conn, reason, fallback)
}

func (x *Peer) SendTo(conn *Connection, delivery m.Delivery, p *packet.Packet, channel m.Channel) error {
	return x.send(conn, delivery, p, channel)
}

func (x *Peer) SendToMany(conns []*Connection, delivery m.Delivery, p *packet.Packet, channel m.Channel) error {
	return x.sendMany(conns, delivery, p, channel)
}

func (x *Peer) SendToClients(delivery m.Delivery, p *packet.Packet, channel m.Channel) error {
	return x.sendMany(x.clients.Snapshot(), delivery, p, channel)
}

func (x *Peer) SendToMaster(delivery m.Delivery, p *packet.Packet, channel m.Channel) error {
	return x.send(x.master.Load(), delivery, p, channel)
}

func (x *Peer) SendToServer(delivery m.Delivery, p *packet.Packet, channel m.Channel) error {
	return x.send(x.server.Load(), delivery, p, channel)
}

func (x *Peer) refreshGauges() {
	count := x.clients.Len()
	if x.master.Load() != nil {
		count++
	}
	if x.server.Load() != nil {
		count++
	}
	x.metrics.SetConnections(count)
	x.metrics.SetPendingAuths(x.auths.Len())

	if x.hosting.Load() {
		x.metrics.SetRooms(1)
	} else {
		x.metrics.SetRooms(0)
	}
}

// connectedMaster returns the master connection when Connected.
func (x *Peer) connectedMaster() *Connection {
	conn := x.master.Load()
	if conn == nil || conn.Status() != m.ConnectionStatusConnected {
		return nil
	}
	return conn
}

func (x *Peer) lookup(l transport.Link) *Connection {
	if conn := x.master.Load(); conn != nil && conn.link == l {
		return conn
	}
	if conn := x.server.Load(); conn != nil && conn.link == l {
		return conn
	}
	conn, found := x.clients.Find(func(c *Connection) bool {
		return c.link == l
	})
	if !found {
		return nil
	}
	return conn
}

// invoked on arbiter goroutine
func (x *Peer) status(l transport.Link, status m.ConnectionStatus, reason string) {
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
		x.refreshGauges()
		x.h.Connect(conn)

	case m.ConnectionStatusDisconnected:
		switch conn.typ {
		case m.ConnectionTypeMaster:
			x.master.CompareAndSwap(conn, nil)
			x.masterLost()
		case m.ConnectionTypeServer:
			x.server.CompareAndSwap(conn, nil)
		case m.ConnectionTypeClient:
			x.clients.Remove(conn)
		}
		conn.setStatus(m.ConnectionStatusDisconnected)
		x.refreshGauges()

		p := DecodeReason(reason)
		log.Printf("%s: %s disconnected, reason=%s", x.c.LogPrefix, conn, p.GetString(KeyReason))
		x.h.Disconnect(conn, p)
	}
}

// masterLost leaves no half state behind: hosting stops, a pending join
// is dropped and the joined host is left.
//
// invoked on arbiter goroutine
func (x *Peer) masterLost() {
	x.stopHosting(false)

	x.targetRoomID = ""
	x.joinPacket = nil

	server := x.server.Load()
	if server != nil && server.Status().Active() {
		x.disconnect(server, reasonPacket(ReasonLeft), reasonClientClosed)
	}
}

// invoked on arbiter goroutine
func (x *Peer) data(l transport.Link, delivery m.Delivery, channel m.Channel, payload []byte) {
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
func (x *Peer) latency(l transport.Link, rtt time.Duration) {
	conn := x.lookup(l)
	if conn == nil {
		return
	}
	conn.setLatency(rtt)
	x.h.Latency(conn, rtt)
}
