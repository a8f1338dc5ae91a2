package rendezvous

import (
	"fmt"
	"log"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/Meander-Cloud/go-rendezvous/arbiter"
	"github.com/Meander-Cloud/go-rendezvous/config"
	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/metrics"
	"github.com/Meander-Cloud/go-rendezvous/net/transport"
	"github.com/Meander-Cloud/go-rendezvous/net/udp"
	"github.com/Meander-Cloud/go-rendezvous/packet"
)

type Option func(*options)

type options struct {
	transport transport.Transport
	metrics   *metrics.Metrics
	clock     clock.Clock
}

// WithTransport replaces the default UDP transport.
func WithTransport(t transport.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

func WithMetrics(x *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = x
	}
}

// WithClock sets the clock behind join tokens, pending auth expiry and
// rate limits.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// roleEvents is implemented by Master and Peer. Methods are invoked on
// the arbiter goroutine.
type roleEvents interface {
	approval(transport.Link, []byte)
	status(transport.Link, m.ConnectionStatus, string)
	data(transport.Link, m.Delivery, m.Channel, []byte)
	latency(transport.Link, time.Duration)
}

// node is the state shared by both roles.
type node struct {
	c       *config.Config
	h       Handler
	a       *arbiter.Arbiter
	t       transport.Transport
	metrics *metrics.Metrics
	clock   clock.Clock

	started    atomic.Bool
	alive      atomic.Bool
	terminated sync.Once
	stopped    sync.Once
}

func newNode(c *config.Config, h Handler, opts []Option) (*node, error) {
	err := c.Validate()
	if err != nil {
		return nil, err
	}
	if h == nil {
		err = fmt.Errorf("%s: nil handler", c.LogPrefix)
		log.Printf("%s", err.Error())
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.transport == nil {
		o.transport, err = udp.NewTransport(
			&udp.Options{
				AppID:             c.AppID,
				Address:           c.Address,
				MaxConnections:    c.MaximumConnectionsOrDefault(),
				HandshakeTimeout:  c.HandshakeTimeoutDuration(),
				ConnectionTimeout: c.ConnectionTimeoutDuration(),
				PingInterval:      c.PingIntervalDuration(),
				LogPrefix:         c.LogPrefix,
				LogDebug:          c.LogDebug,
			},
		)
		if err != nil {
			return nil, err
		}
	}

	n := &node{
		c:       c,
		h:       h,
		t:       o.transport,
		metrics: o.metrics,
		clock:   o.clock,
	}

	n.a = arbiter.NewArbiter(
		&arbiter.Options{
			EventChannelLength: c.EventChannelLength,
			PanicHandler: func(rec any) {
				// invoked on arbiter goroutine
				n.terminate(fmt.Errorf("%s: dispatch panic: %v", c.LogPrefix, rec))
			},
			LogPrefix: c.LogPrefix,
			LogDebug:  c.LogDebug,
		},
	)

	return n, nil
}

func (n *node) start(role roleEvents) error {
	if !n.started.CompareAndSwap(false, true) {
		err := fmt.Errorf("%s: already started", n.c.LogPrefix)
		log.Printf("%s", err.Error())
		return err
	}

	n.alive.Store(true)
	err := n.t.Start(&events{n: n, role: role})
	if err != nil {
		n.alive.Store(false)
		return err
	}

	log.Printf("%s: started on %s", n.c.LogPrefix, n.t.LocalAddr())
	return nil
}

// dispatch runs f on the arbiter goroutine while the node is alive.
func (n *node) dispatch(f func()) error {
	if !n.alive.Load() {
		return ErrNotAlive
	}
	return n.a.Dispatch(func() {
		if !n.alive.Load() {
			return
		}
		f()
	})
}

// invoked on arbiter goroutine
func (n *node) terminate(err error) {
	n.terminated.Do(func() {
		n.alive.Store(false)
		log.Printf("%s: terminating, err=%v", n.c.LogPrefix, err)

		closeErr := n.t.Close()
		if closeErr != nil {
			log.Printf("%s: transport close failed, err=%s", n.c.LogPrefix, closeErr.Error())
		}

		n.h.Terminate(err)
	})
}

// shutdown must not be called from a Handler callback.
func (n *node) shutdown(reset func()) error {
	var errs error
	n.stopped.Do(func() {
		n.alive.Store(false)

		errs = multierr.Append(errs, n.t.Close())
		n.a.Shutdown() // wait

		if reset != nil {
			reset()
		}

		log.Printf("%s: shutdown complete", n.c.LogPrefix)
		n.terminated.Do(func() {
			n.h.Terminate(nil)
		})
	})
	return errs
}

func (n *node) LocalAddr() netip.AddrPort {
	return n.t.LocalAddr()
}

func (n *node) IsAlive() bool {
	return n.alive.Load()
}

// send frames p as Data and hands it to conn's link.
func (n *node) send(conn *Connection, delivery m.Delivery, p *packet.Packet, channel m.Channel) error {
	if conn == nil || conn.Status() != m.ConnectionStatusConnected {
		return ErrNotConnected
	}
	if !delivery.Valid() || !channel.Valid() {
		return ErrInvalidDelivery
	}
	if p == nil {
		return ErrNilPacket
	}
	return conn.link.Send(delivery, channel, m.EncodeData(p))
}

func (n *node) sendMany(conns []*Connection, delivery m.Delivery, p *packet.Packet, channel m.Channel) error {
	var errs error
	for _, conn := range conns {
		if conn.Status() != m.ConnectionStatusConnected {
			continue
		}
		errs = multierr.Append(errs, n.send(conn, delivery, p, channel))
	}
	return errs
}

// sendRoom sends an encoded room command, logging failures.
func (n *node) sendRoom(conn *Connection, delivery m.Delivery, channel m.Channel, payload []byte) {
	err := conn.link.Send(delivery, channel, payload)
	if err != nil {
		log.Printf("%s: failed to send room command to %s, err=%s", n.c.LogPrefix, conn, err.Error())
	}
}

func (n *node) SendToForeign(addr netip.AddrPort, data []byte) error {
	if !n.alive.Load() {
		return ErrNotAlive
	}
	return n.t.SendUnconnected(addr, data)
}

// disconnect defaults a missing Reason field and closes conn's link.
func (n *node) disconnect(conn *Connection, reason *packet.Packet, fallback string) error {
	if conn == nil {
		return ErrNotConnected
	}
	if !conn.Status().Active() {
		return ErrNotConnected
	}
	conn.setStatus(m.ConnectionStatusDisconnecting)
	return conn.link.Disconnect(EncodeReason(reason, fallback))
}

// deny rejects an inbound handshake, logging failures.
func (n *node) deny(l transport.Link, reason string) {
	n.metrics.Admission(false)
	if n.c.LogDebug {
		log.Printf("%s: denying %s, reason=%s", n.c.LogPrefix, l.RemoteAddr(), reason)
	}
	err := l.Deny(reason)
	if err != nil {
		log.Printf("%s: failed to deny %s, err=%s", n.c.LogPrefix, l.RemoteAddr(), err.Error())
	}
}

// login runs Handler.Login and denies on rejection. It returns the
// candidate connection when accepted.
func (n *node) login(l transport.Link, typ m.ConnectionType, p *packet.Packet) *Connection {
	conn := newConnection(typ, l, p)

	accepted, reason := n.h.Login(conn, conn.packet)
	if !accepted {
		n.deny(l, EncodeReason(reason, ReasonLoginRefused))
		return nil
	}
	return conn
}

// approve admits a registered candidate.
func (n *node) approve(conn *Connection) {
	n.metrics.Admission(true)
	err := conn.link.Approve()
	if err != nil {
		log.Printf("%s: failed to approve %s, err=%s", n.c.LogPrefix, conn, err.Error())
	}
}
