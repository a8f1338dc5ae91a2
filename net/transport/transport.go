package transport

import (
	"errors"
	"net/netip"
	"time"

	m "github.com/Meander-Cloud/go-rendezvous/message"
)

var (
	ErrClosed       = errors.New("transport: closed")
	ErrNotConnected = errors.New("transport: link not connected")
	ErrNotInbound   = errors.New("transport: link is not an inbound handshake")
	ErrQueueFull    = errors.New("transport: send queue full")
)

// Handler receives transport events. Methods are invoked on transport
// goroutines and must not block.
type Handler interface {
	// an inbound handshake awaits Link.Approve or Link.Deny
	Approval(Link, []byte)
	// Connected, or Disconnected with a reason
	Status(Link, m.ConnectionStatus, string)
	Data(Link, m.Delivery, m.Channel, []byte)
	Latency(Link, time.Duration)
	// a datagram that bypassed every session
	Unconnected(netip.AddrPort, []byte)
	// the transport can no longer operate
	Fault(error)
}

// Link is one session with a remote endpoint. Methods are safe for
// concurrent use.
type Link interface {
	RemoteAddr() netip.AddrPort
	Approve() error
	Deny(reason string) error
	Send(m.Delivery, m.Channel, []byte) error
	Disconnect(reason string) error
}

type Transport interface {
	Start(Handler) error
	// Connect returns immediately; the outcome arrives as a Status event.
	Connect(addr netip.AddrPort, hello []byte) (Link, error)
	SendUnconnected(addr netip.AddrPort, data []byte) error
	LocalAddr() netip.AddrPort
	Close() error
}
