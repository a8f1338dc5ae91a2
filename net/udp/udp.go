// Package udp implements transport.Transport over one shared UDP socket.
// QUIC sessions and raw unconnected datagrams use the same local port, so
// NAT mappings opened by hole punching carry the later handshake.
package udp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Meander-Cloud/go-rendezvous/net/transport"
)

const (
	ReasonUnreachable     = "Failed to establish connection"
	ReasonTimedOut        = "Connection timed out"
	ReasonClosed          = "Connection closed"
	ReasonTransportClosed = "Transport closed"
	ReasonServerFull      = "Server full"
	ReasonApprovalTimeout = "Approval timed out"
	ReasonWriteTimedOut   = "Write timed out"
	ReasonSendQueueFull   = "Send queue full"
)

const defaultWriteTimeout time.Duration = time.Second * 3

const (
	codeNormal   quic.ApplicationErrorCode = 0
	codeDenied   quic.ApplicationErrorCode = 1
	codeProtocol quic.ApplicationErrorCode = 2
)

const (
	maxIncomingStreams    int64 = 4
	maxIncomingUniStreams int64 = 128
	unconnectedBufferLen  int   = 2048
)

// first byte of an unconnected datagram must not look like QUIC
const quicFixedBit byte = 0x40

type Options struct {
	// ALPN, nodes with different AppID never interconnect
	AppID string
	// UDP listen address, ":0" picks a free port
	Address string
	// inbound sessions, 0 is unlimited
	MaxConnections uint16

	HandshakeTimeout  time.Duration
	ConnectionTimeout time.Duration
	PingInterval      time.Duration
	// bound on one reliable write, 0 selects the default
	WriteTimeout time.Duration

	LogPrefix string
	LogDebug  bool
}

type Transport struct {
	options    *Options
	serverTLS  *tls.Config
	clientTLS  *tls.Config
	quicConfig *quic.Config

	ctx    context.Context
	cancel context.CancelFunc

	handler transport.Handler
	udpConn *net.UDPConn
	qt      *quic.Transport
	ln      *quic.Listener
	group   errgroup.Group

	started    atomic.Bool
	inShutdown atomic.Bool

	mutex         sync.Mutex
	links         map[*link]struct{}
	linkWaitGroup sync.WaitGroup
}

func NewTransport(options *Options) (*Transport, error) {
	if options == nil {
		err := fmt.Errorf("nil options")
		log.Printf("%s", err.Error())
		return nil, err
	}
	if options.AppID == "" {
		err := fmt.Errorf("%s: invalid AppID=%s", options.LogPrefix, options.AppID)
		log.Printf("%s", err.Error())
		return nil, err
	}
	if options.HandshakeTimeout <= 0 || options.ConnectionTimeout <= 0 || options.PingInterval <= 0 {
		err := fmt.Errorf(
			"%s: invalid HandshakeTimeout=%s ConnectionTimeout=%s PingInterval=%s",
			options.LogPrefix,
			options.HandshakeTimeout,
			options.ConnectionTimeout,
			options.PingInterval,
		)
		log.Printf("%s", err.Error())
		return nil, err
	}

	if options.WriteTimeout <= 0 {
		options.WriteTimeout = defaultWriteTimeout
	}

	serverTLS, clientTLS, err := newTLSConfigs(options.AppID)
	if err != nil {
		err = fmt.Errorf("%s: %w", options.LogPrefix, err)
		log.Printf("%s", err.Error())
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Transport{
		options:   options,
		serverTLS: serverTLS,
		clientTLS: clientTLS,
		quicConfig: &quic.Config{
			HandshakeIdleTimeout:  options.HandshakeTimeout,
			MaxIdleTimeout:        options.ConnectionTimeout,
			KeepAlivePeriod:       options.PingInterval,
			MaxIncomingStreams:    maxIncomingStreams,
			MaxIncomingUniStreams: maxIncomingUniStreams,
			EnableDatagrams:       true,
		},
		ctx:    ctx,
		cancel: cancel,
		links:  make(map[*link]struct{}),
	}, nil
}

func (t *Transport) Start(h transport.Handler) error {
	if !t.started.CompareAndSwap(false, true) {
		err := fmt.Errorf("%s: transport already started", t.options.LogPrefix)
		log.Printf("%s", err.Error())
		return err
	}
	t.handler = h

	laddr, err := net.ResolveUDPAddr("udp", t.options.Address)
	if err != nil {
		err = fmt.Errorf("%s: failed to resolve address=%s, err=%w", t.options.LogPrefix, t.options.Address, err)
		log.Printf("%s", err.Error())
		return err
	}

	t.udpConn, err = net.ListenUDP("udp", laddr)
	if err != nil {
		err = fmt.Errorf("%s: failed to listen address=%s, err=%w", t.options.LogPrefix, t.options.Address, err)
		log.Printf("%s", err.Error())
		return err
	}

	t.qt = &quic.Transport{Conn: t.udpConn}

	t.ln, err = t.qt.Listen(t.serverTLS, t.quicConfig)
	if err != nil {
		err = fmt.Errorf("%s: failed to start quic listener, err=%w", t.options.LogPrefix, err)
		log.Printf("%s", err.Error())
		t.qt.Close()
		return err
	}

	log.Printf("%s: listening on %s", t.options.LogPrefix, t.LocalAddr())

	// quic-go queues non-QUIC datagrams only once a read has been issued,
	// arm that queue before the socket can see a hole punch
	t.armUnconnected()

	t.group.Go(t.acceptLoop)
	t.group.Go(t.unconnectedLoop)

	return nil
}

func (t *Transport) LocalAddr() netip.AddrPort {
	if t.udpConn == nil {
		return netip.AddrPort{}
	}
	return toAddrPort(t.udpConn.LocalAddr())
}

func (t *Transport) Connect(addr netip.AddrPort, hello []byte) (transport.Link, error) {
	if t.inShutdown.Load() || !t.started.Load() {
		return nil, transport.ErrClosed
	}

	l := newLink(t, normalize(addr), false)
	if !t.addLink(l) {
		return nil, transport.ErrClosed
	}

	t.linkWaitGroup.Add(1)
	go l.dial(hello)

	return l, nil
}

func (t *Transport) SendUnconnected(addr netip.AddrPort, data []byte) error {
	if t.inShutdown.Load() || !t.started.Load() {
		return transport.ErrClosed
	}
	if len(data) == 0 || data[0]&quicFixedBit != 0 {
		err := fmt.Errorf("%s: unconnected datagram must be non-empty with bit 0x40 of the first byte clear", t.options.LogPrefix)
		log.Printf("%s", err.Error())
		return err
	}

	_, err := t.qt.WriteTo(data, udpAddr(normalize(addr)))
	return err
}

func (t *Transport) Close() error {
	if !t.inShutdown.CompareAndSwap(false, true) {
		return nil
	}
	if !t.started.Load() {
		t.cancel()
		return nil
	}

	t.mutex.Lock()
	links := make([]*link, 0, len(t.links))
	for l := range t.links {
		links = append(links, l)
	}
	t.mutex.Unlock()

	for _, l := range links {
		l.Disconnect(ReasonTransportClosed)
	}

	var errs error
	errs = multierr.Append(errs, t.ln.Close())
	t.cancel()
	errs = multierr.Append(errs, t.group.Wait())

	// closes the underlying socket
	errs = multierr.Append(errs, t.qt.Close())

	// wait
	t.linkWaitGroup.Wait()

	log.Printf("%s: transport closed", t.options.LogPrefix)
	return errs
}

func (t *Transport) addLink(l *link) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.inShutdown.Load() {
		return false
	}
	t.links[l] = struct{}{}
	return true
}

func (t *Transport) removeLink(l *link) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	delete(t.links, l)
}

func (t *Transport) inboundCount() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	count := 0
	for l := range t.links {
		if l.inbound {
			count++
		}
	}
	return count
}

// invoked on group goroutine
func (t *Transport) acceptLoop() error {
	for {
		conn, err := t.ln.Accept(t.ctx)
		if err != nil {
			if t.inShutdown.Load() {
				return nil
			}
			err = fmt.Errorf("%s: accept failed, err=%w", t.options.LogPrefix, err)
			log.Printf("%s", err.Error())
			t.handler.Fault(err)
			return err
		}

		if t.options.MaxConnections != 0 && t.inboundCount() >= int(t.options.MaxConnections) {
			log.Printf("%s: rejecting %s, server full", t.options.LogPrefix, conn.RemoteAddr())
			conn.CloseWithError(codeDenied, ReasonServerFull)
			continue
		}

		l := newLink(t, toAddrPort(conn.RemoteAddr()), true)
		if !t.addLink(l) {
			conn.CloseWithError(codeNormal, ReasonTransportClosed)
			return nil
		}

		t.linkWaitGroup.Add(1)
		go l.serve(conn)
	}
}

func (t *Transport) armUnconnected() {
	ctx, cancel := context.WithCancel(t.ctx)
	cancel()

	buf := make([]byte, unconnectedBufferLen)
	n, addr, err := t.qt.ReadNonQUICPacket(ctx, buf)
	if err != nil {
		return
	}
	// a datagram raced the arming read
	data := make([]byte, n)
	copy(data, buf[:n])
	t.handler.Unconnected(toAddrPort(addr), data)
}

// invoked on group goroutine
func (t *Transport) unconnectedLoop() error {
	buf := make([]byte, unconnectedBufferLen)
	for {
		n, addr, err := t.qt.ReadNonQUICPacket(t.ctx, buf)
		if err != nil {
			if t.inShutdown.Load() {
				return nil
			}
			err = fmt.Errorf("%s: unconnected read failed, err=%w", t.options.LogPrefix, err)
			log.Printf("%s", err.Error())
			t.handler.Fault(err)
			return err
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		t.handler.Unconnected(toAddrPort(addr), data)
	}
}

func normalize(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

func toAddrPort(a net.Addr) netip.AddrPort {
	if ua, ok := a.(*net.UDPAddr); ok {
		return normalize(ua.AddrPort())
	}
	addr, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return netip.AddrPort{}
	}
	return normalize(addr)
}

func udpAddr(addr netip.AddrPort) *net.UDPAddr {
	return net.UDPAddrFromAddrPort(addr)
}

// dialReason maps an error before the session was approved.
func dialReason(err error) string {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorMessage != "" {
		return appErr.ErrorMessage
	}
	return ReasonUnreachable
}

// closeReason maps the error that ended an established session.
func closeReason(err error) string {
	var (
		appErr  *quic.ApplicationError
		idleErr *quic.IdleTimeoutError
		hsErr   *quic.HandshakeTimeoutError
	)
	switch {
	case err == nil:
		return ReasonClosed
	case errors.As(err, &appErr):
		if appErr.ErrorMessage == "" {
			return ReasonClosed
		}
		return appErr.ErrorMessage
	case errors.As(err, &idleErr):
		return ReasonTimedOut
	case errors.As(err, &hsErr), errors.Is(err, context.DeadlineExceeded):
		return ReasonUnreachable
	default:
		return ReasonClosed
	}
}
