package rendezvous

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/net/transport"
	"github.com/Meander-Cloud/go-rendezvous/packet"
	"github.com/Meander-Cloud/go-rendezvous/registry"
)

// Connection is one remote endpoint as seen from the local node. Type is
// relative to the local node. Identity is the pair (Type, Addr).
type Connection struct {
	typ    m.ConnectionType
	addr   netip.AddrPort
	link   transport.Link
	packet *packet.Packet

	status  atomic.Uint32
	latency atomic.Int64 // nanoseconds, negative until measured
	roomID  atomic.Pointer[string]

	// master side room query budget, nil is unlimited
	limiter *rate.Limiter
}

func newConnection(typ m.ConnectionType, link transport.Link, p *packet.Packet) *Connection {
	if p == nil {
		p = packet.New()
	}

	conn := &Connection{
		typ:    typ,
		addr:   link.RemoteAddr(),
		link:   link,
		packet: p,
	}
	conn.setStatus(m.ConnectionStatusConnecting)
	conn.latency.Store(-1)
	return conn
}

func sameConnection(a, b *Connection) bool {
	return a.Equal(b)
}

func (c *Connection) Type() m.ConnectionType {
	return c.typ
}

func (c *Connection) Addr() netip.AddrPort {
	return c.addr
}

// Packet is the handshake Packet. Callers must not modify it.
func (c *Connection) Packet() *packet.Packet {
	return c.packet
}

func (c *Connection) Status() m.ConnectionStatus {
	return m.ConnectionStatus(c.status.Load())
}

func (c *Connection) setStatus(s m.ConnectionStatus) {
	c.status.Store(uint32(s))
}

// Latency returns the last round trip sample, false until one arrives.
func (c *Connection) Latency() (time.Duration, bool) {
	v := c.latency.Load()
	if v < 0 {
		return 0, false
	}
	return time.Duration(v), true
}

func (c *Connection) setLatency(rtt time.Duration) {
	c.latency.Store(int64(rtt))
}

// RoomID is the id of the room this connection owns, empty when none.
func (c *Connection) RoomID() string {
	id := c.roomID.Load()
	if id == nil {
		return ""
	}
	return *id
}

func (c *Connection) setRoomID(id string) {
	if id == "" {
		c.roomID.Store(nil)
		return
	}
	c.roomID.Store(&id)
}

func (c *Connection) Equal(other *Connection) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.typ == other.typ && c.addr == other.addr
}

// registered reports whether conns already holds a session of typ from addr.
func registered(conns *registry.Registry[*Connection], typ m.ConnectionType, addr netip.AddrPort) bool {
	_, found := conns.Find(func(c *Connection) bool {
		return c.typ == typ && c.addr == addr
	})
	return found
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s<%s>", c.typ, c.addr)
}
