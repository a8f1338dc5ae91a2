// Package transporttest provides an in-memory transport.Transport for tests.
// Events are delivered synchronously on the calling goroutine.
package transporttest

import (
	"bytes"
	"net/netip"
	"sync"
	"time"

	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/net/transport"
)

const (
	ReasonUnreachable = "Failed to establish connection"
	ReasonClosed      = "Transport closed"
)

type Datagram struct {
	From netip.AddrPort
	To   netip.AddrPort
	Data []byte
}

// Network routes handshakes, payloads and datagrams between transports
// by address.
type Network struct {
	mutex     sync.Mutex
	nodes     map[netip.AddrPort]*Transport
	datagrams []Datagram
}

func NewNetwork() *Network {
	return &Network{
		nodes: make(map[netip.AddrPort]*Transport),
	}
}

func (n *Network) NewTransport(addr netip.AddrPort) *Transport {
	return &Transport{
		network: n,
		addr:    addr,
		links:   make(map[*Link]struct{}),
	}
}

// Datagrams returns every unconnected datagram sent so far.
func (n *Network) Datagrams() []Datagram {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]Datagram(nil), n.datagrams...)
}

func (n *Network) lookup(addr netip.AddrPort) *Transport {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.nodes[addr]
}

type Transport struct {
	network *Network
	addr    netip.AddrPort

	// guarded by network mutex
	handler transport.Handler
	closed  bool
	links   map[*Link]struct{}
}

func (t *Transport) Start(h transport.Handler) error {
	t.network.mutex.Lock()
	defer t.network.mutex.Unlock()

	t.handler = h
	t.network.nodes[t.addr] = t
	return nil
}

func (t *Transport) LocalAddr() netip.AddrPort {
	return t.addr
}

func (t *Transport) Connect(addr netip.AddrPort, hello []byte) (transport.Link, error) {
	local := &Link{
		owner:  t,
		remote: addr,
		status: m.ConnectionStatusConnecting,
	}

	n := t.network
	n.mutex.Lock()
	if t.closed {
		n.mutex.Unlock()
		return nil, transport.ErrClosed
	}
	t.links[local] = struct{}{}
	target := n.nodes[addr]
	if target == nil || target.closed {
		local.status = m.ConnectionStatusDisconnected
		delete(t.links, local)
		h := t.handler
		n.mutex.Unlock()

		h.Status(local, m.ConnectionStatusDisconnected, ReasonUnreachable)
		return local, nil
	}

	inbound := &Link{
		owner:   target,
		remote:  t.addr,
		inbound: true,
		status:  m.ConnectionStatusConnecting,
		peer:    local,
	}
	local.peer = inbound
	target.links[inbound] = struct{}{}
	h := target.handler
	n.mutex.Unlock()

	h.Approval(inbound, bytes.Clone(hello))
	return local, nil
}

func (t *Transport) SendUnconnected(addr netip.AddrPort, data []byte) error {
	n := t.network
	n.mutex.Lock()
	if t.closed {
		n.mutex.Unlock()
		return transport.ErrClosed
	}
	n.datagrams = append(n.datagrams, Datagram{From: t.addr, To: addr, Data: bytes.Clone(data)})
	target := n.nodes[addr]
	var h transport.Handler
	if target != nil && !target.closed {
		h = target.handler
	}
	n.mutex.Unlock()

	if h != nil {
		h.Unconnected(t.addr, bytes.Clone(data))
	}
	return nil
}

// Close disconnects every link without notifying the local handler.
func (t *Transport) Close() error {
	n := t.network
	n.mutex.Lock()
	if t.closed {
		n.mutex.Unlock()
		return nil
	}
	t.closed = true
	if n.nodes[t.addr] == t {
		delete(n.nodes, t.addr)
	}
	var notify []func()
	for l := range t.links {
		notify = append(notify, l.closeLocked(ReasonClosed, false)...)
	}
	n.mutex.Unlock()

	for _, f := range notify {
		f()
	}
	return nil
}

// Link is one end of an in-memory session.
type Link struct {
	owner   *Transport
	remote  netip.AddrPort
	inbound bool

	// guarded by network mutex
	status m.ConnectionStatus
	peer   *Link
}

func (l *Link) RemoteAddr() netip.AddrPort {
	return l.remote
}

func (l *Link) Approve() error {
	n := l.owner.network
	n.mutex.Lock()
	if !l.inbound || l.status != m.ConnectionStatusConnecting || l.peer == nil {
		n.mutex.Unlock()
		return transport.ErrNotInbound
	}
	l.status = m.ConnectionStatusConnected
	l.peer.status = m.ConnectionStatusConnected
	peer := l.peer
	h := l.owner.handler
	ph := peer.owner.handler
	n.mutex.Unlock()

	h.Status(l, m.ConnectionStatusConnected, "")
	ph.Status(peer, m.ConnectionStatusConnected, "")
	return nil
}

func (l *Link) Deny(reason string) error {
	n := l.owner.network
	n.mutex.Lock()
	if !l.inbound || l.status != m.ConnectionStatusConnecting {
		n.mutex.Unlock()
		return transport.ErrNotInbound
	}
	l.status = m.ConnectionStatusDisconnected
	delete(l.owner.links, l)
	peer := l.peer
	var ph transport.Handler
	if peer != nil && peer.status != m.ConnectionStatusDisconnected {
		peer.status = m.ConnectionStatusDisconnected
		delete(peer.owner.links, peer)
		ph = peer.owner.handler
	}
	n.mutex.Unlock()

	if ph != nil {
		ph.Status(peer, m.ConnectionStatusDisconnected, reason)
	}
	return nil
}

func (l *Link) Send(delivery m.Delivery, channel m.Channel, payload []byte) error {
	n := l.owner.network
	n.mutex.Lock()
	if l.status != m.ConnectionStatusConnected || l.peer == nil {
		n.mutex.Unlock()
		return transport.ErrNotConnected
	}
	peer := l.peer
	ph := peer.owner.handler
	n.mutex.Unlock()

	ph.Data(peer, delivery, channel, bytes.Clone(payload))
	return nil
}

func (l *Link) Disconnect(reason string) error {
	n := l.owner.network
	n.mutex.Lock()
	notify := l.closeLocked(reason, true)
	n.mutex.Unlock()

	for _, f := range notify {
		f()
	}
	return nil
}

// caller must hold network mutex
func (l *Link) closeLocked(reason string, notifySelf bool) []func() {
	if l.status == m.ConnectionStatusDisconnected {
		return nil
	}
	wasConnected := l.status == m.ConnectionStatusConnected
	l.status = m.ConnectionStatusDisconnected
	delete(l.owner.links, l)

	var notify []func()
	if notifySelf && (wasConnected || !l.inbound) {
		h := l.owner.handler
		notify = append(notify, func() { h.Status(l, m.ConnectionStatusDisconnected, reason) })
	}

	peer := l.peer
	if peer != nil && peer.status != m.ConnectionStatusDisconnected {
		peerWasConnected := peer.status == m.ConnectionStatusConnected
		peer.status = m.ConnectionStatusDisconnected
		delete(peer.owner.links, peer)
		if peerWasConnected || !peer.inbound {
			ph := peer.owner.handler
			notify = append(notify, func() { ph.Status(peer, m.ConnectionStatusDisconnected, reason) })
		}
	}
	return notify
}

// Latency reports rtt for this link to its owner's handler.
func (l *Link) Latency(rtt time.Duration) {
	l.owner.network.mutex.Lock()
	h := l.owner.handler
	l.owner.network.mutex.Unlock()

	h.Latency(l, rtt)
}
