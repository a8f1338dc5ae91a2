package udp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/multiformats/go-varint"
	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/net/transport"
	up "github.com/Meander-Cloud/go-rendezvous/net/udp/protocol"
)

const (
	streamHeaderLen   int    = 2
	datagramHeaderLen int    = 4
	maxMessageLen     uint64 = 1 << 20 // 1 MB
	sendQueueLen      int    = 256
)

type streamKey struct {
	delivery m.Delivery
	channel  m.Channel
}

type outbound struct {
	key streamKey
	buf []byte
}

type decision struct {
	approve bool
	reason  string
}

// link is one QUIC session. The dialer owns the control stream; the
// listener answers on it.
type link struct {
	t       *Transport
	remote  netip.AddrPort
	inbound bool
	txid    byte
	rxid    byte

	ctx    context.Context
	cancel context.CancelFunc

	status        atomic.Uint32
	everConnected atomic.Bool
	txseq         atomic.Uint64

	decided    sync.Once
	decisionch chan decision
	finished   sync.Once

	mutex       sync.Mutex
	conn        quic.Connection
	localReason string

	// guards control stream writes and datagram sequences
	sendMutex sync.Mutex
	control   quic.Stream
	dgramSeq  [m.MaxChannel + 1]uint16

	// reliable sends, drained by writeLoop
	sendch chan outbound

	pingMutex sync.Mutex
	pingMap   map[string]time.Time
}

func newLink(t *Transport, remote netip.AddrPort, inbound bool) *link {
	ctx, cancel := context.WithCancel(t.ctx)

	l := &link{
		t:          t,
		remote:     remote,
		inbound:    inbound,
		ctx:        ctx,
		cancel:     cancel,
		decisionch: make(chan decision, 1),
		sendch:     make(chan outbound, sendQueueLen),
		pingMap:    make(map[string]time.Time),
	}

	if inbound {
		l.txid = up.ListenerSenderID
		l.rxid = up.DialerSenderID
	} else {
		l.txid = up.DialerSenderID
		l.rxid = up.ListenerSenderID
	}

	l.setStatus(m.ConnectionStatusConnecting)
	return l
}

func (l *link) getStatus() m.ConnectionStatus {
	return m.ConnectionStatus(l.status.Load())
}

func (l *link) setStatus(s m.ConnectionStatus) {
	l.status.Store(uint32(s))
}

func (l *link) connection() quic.Connection {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.conn
}

func (l *link) RemoteAddr() netip.AddrPort {
	return l.remote
}

func (l *link) String() string {
	if l.inbound {
		return fmt.Sprintf("inbound<%s>", l.remote)
	}
	return fmt.Sprintf("outbound<%s>", l.remote)
}

func (l *link) decide(d decision) error {
	if !l.inbound {
		return transport.ErrNotInbound
	}

	accepted := false
	l.decided.Do(func() {
		l.decisionch <- d
		accepted = true
	})
	if !accepted {
		return transport.ErrNotInbound
	}
	return nil
}

func (l *link) Approve() error {
	return l.decide(decision{approve: true})
}

func (l *link) Deny(reason string) error {
	return l.decide(decision{approve: false, reason: reason})
}

func (l *link) Disconnect(reason string) error {
	if l.inbound && l.getStatus() == m.ConnectionStatusConnecting {
		err := l.Deny(reason)
		if err == nil {
			return nil
		}
		// already decided, fall through to close
	}

	l.mutex.Lock()
	if l.getStatus() == m.ConnectionStatusDisconnected || l.localReason != "" {
		l.mutex.Unlock()
		return nil
	}
	l.localReason = reason
	l.setStatus(m.ConnectionStatusDisconnecting)
	conn := l.conn
	l.mutex.Unlock()

	if conn != nil {
		conn.CloseWithError(codeNormal, reason)
	}
	// unblocks a dial in progress
	l.cancel()
	return nil
}

func (l *link) Send(delivery m.Delivery, channel m.Channel, payload []byte) error {
	if l.getStatus() != m.ConnectionStatusConnected {
		return transport.ErrNotConnected
	}
	if !delivery.Valid() || !channel.Valid() {
		return fmt.Errorf("%s: invalid delivery=%s channel=%d", l.t.options.LogPrefix, delivery, channel)
	}

	conn := l.connection()
	if conn == nil {
		return transport.ErrNotConnected
	}

	if !delivery.Reliable() {
		return l.sendDatagram(conn, delivery, channel, payload)
	}

	buf := make([]byte, 0, varint.MaxLenUvarint63+len(payload))
	buf = append(buf, varint.ToUvarint(uint64(len(payload)))...)
	buf = append(buf, payload...)

	select {
	case l.sendch <- outbound{key: streamKey{delivery: delivery, channel: channel}, buf: buf}:
		return nil
	default:
		// peer is not draining
		log.Printf("%s: %s send queue full, disconnecting", l.t.options.LogPrefix, l)
		l.Disconnect(ReasonSendQueueFull)
		return transport.ErrQueueFull
	}
}

// writeLoop performs reliable writes so that Send never waits on flow
// control. A write that misses its deadline ends the session.
func (l *link) writeLoop(ctx context.Context, conn quic.Connection) error {
	streams := make(map[streamKey]quic.SendStream)

	for {
		var out outbound
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out = <-l.sendch:
		}

		buf := out.buf
		s, found := streams[out.key]
		if !found {
			openCtx, cancel := context.WithTimeout(ctx, l.t.options.WriteTimeout)
			var err error
			s, err = conn.OpenUniStreamSync(openCtx)
			cancel()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					l.Disconnect(ReasonWriteTimedOut)
				}
				return err
			}
			streams[out.key] = s

			// stream header rides on the first message
			buf = append([]byte{byte(out.key.delivery), byte(out.key.channel)}, buf...)
		}

		s.SetWriteDeadline(time.Now().Add(l.t.options.WriteTimeout))
		_, err := s.Write(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				log.Printf("%s: %s write timed out, err=%s", l.t.options.LogPrefix, l, err.Error())
				l.Disconnect(ReasonWriteTimedOut)
			}
			return err
		}
	}
}

func (l *link) sendDatagram(conn quic.Connection, delivery m.Delivery, channel m.Channel, payload []byte) error {
	l.sendMutex.Lock()
	seq := l.dgramSeq[channel]
	l.dgramSeq[channel]++
	l.sendMutex.Unlock()

	buf := make([]byte, datagramHeaderLen, datagramHeaderLen+len(payload))
	buf[0] = byte(delivery)
	buf[1] = byte(channel)
	binary.LittleEndian.PutUint16(buf[2:datagramHeaderLen], seq)
	buf = append(buf, payload...)

	return conn.SendDatagram(buf)
}

func (l *link) writeControl(frame *up.Frame) error {
	frame.Txseq = l.txseq.Add(1)
	frame.Txtime = time.Now().UTC().UnixMilli()

	l.sendMutex.Lock()
	defer l.sendMutex.Unlock()
	return up.WriteFrame(l.control, l.txid, frame)
}

// dial runs on its own goroutine for an outbound link.
func (l *link) dial(hello []byte) {
	defer l.t.linkWaitGroup.Done()

	ctx, cancel := context.WithTimeout(l.ctx, l.t.options.HandshakeTimeout)
	defer cancel()

	conn, err := l.t.qt.Dial(ctx, udpAddr(l.remote), l.t.clientTLS, l.t.quicConfig)
	if err != nil {
		log.Printf("%s: %s dial failed, err=%s", l.t.options.LogPrefix, l, err.Error())
		l.finish(dialReason(err))
		return
	}

	l.mutex.Lock()
	l.conn = conn
	localReason := l.localReason
	l.mutex.Unlock()
	if localReason != "" {
		conn.CloseWithError(codeNormal, localReason)
		l.finish(localReason)
		return
	}

	control, err := conn.OpenStreamSync(ctx)
	if err != nil {
		l.finish(dialReason(err))
		return
	}
	l.control = control

	err = l.writeControl(&up.Frame{Hello: &up.Hello{Payload: hello}})
	if err != nil {
		l.finish(dialReason(err))
		return
	}

	// listener has HandshakeTimeout to decide, allow for transit
	control.SetReadDeadline(time.Now().Add(l.t.options.HandshakeTimeout * 2))
	frame, err := up.ReadFrame(control, l.rxid)
	if err != nil {
		if errors.Is(err, up.ErrProtocol) {
			conn.CloseWithError(codeProtocol, err.Error())
		}
		l.finish(dialReason(err))
		return
	}
	if frame.Approve == nil {
		conn.CloseWithError(codeProtocol, "expected approve frame")
		l.finish(ReasonUnreachable)
		return
	}
	control.SetReadDeadline(time.Time{})

	l.connected()
	l.run()
}

// serve runs on its own goroutine for an accepted link.
func (l *link) serve(conn quic.Connection) {
	defer l.t.linkWaitGroup.Done()

	l.mutex.Lock()
	l.conn = conn
	l.mutex.Unlock()

	ctx, cancel := context.WithTimeout(l.ctx, l.t.options.HandshakeTimeout)
	defer cancel()

	control, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(codeDenied, ReasonUnreachable)
		l.finish(ReasonUnreachable)
		return
	}
	l.control = control

	control.SetReadDeadline(time.Now().Add(l.t.options.HandshakeTimeout))
	frame, err := up.ReadFrame(control, l.rxid)
	if err != nil || frame.Hello == nil {
		conn.CloseWithError(codeProtocol, "expected hello frame")
		l.finish(ReasonUnreachable)
		return
	}
	control.SetReadDeadline(time.Time{})

	l.t.handler.Approval(l, frame.Hello.Payload)

	// wait
	var d decision
	select {
	case d = <-l.decisionch:
	case <-ctx.Done():
		d = decision{approve: false, reason: ReasonApprovalTimeout}
		// late Approve or Deny must not block
		l.decided.Do(func() {})
	case <-conn.Context().Done():
		l.finish(ReasonUnreachable)
		return
	}

	if !d.approve {
		conn.CloseWithError(codeDenied, d.reason)
		l.finish(d.reason)
		return
	}

	err = l.writeControl(&up.Frame{Approve: &up.Approve{}})
	if err != nil {
		l.finish(closeReason(err))
		return
	}

	l.connected()
	l.run()
}

func (l *link) connected() {
	l.mutex.Lock()
	if l.localReason != "" {
		l.mutex.Unlock()
		return
	}
	l.setStatus(m.ConnectionStatusConnected)
	l.everConnected.Store(true)
	l.mutex.Unlock()

	if l.t.options.LogDebug {
		log.Printf("%s: %s connected", l.t.options.LogPrefix, l)
	}
	l.t.handler.Status(l, m.ConnectionStatusConnected, "")
}

// run blocks until the session ends. Every loop exit follows or causes a
// connection close, which unblocks the others.
func (l *link) run() {
	conn := l.connection()
	g, ctx := errgroup.WithContext(l.ctx)

	g.Go(func() error {
		return l.controlLoop(conn)
	})
	g.Go(func() error {
		return l.streamLoop(ctx, g, conn)
	})
	g.Go(func() error {
		return l.datagramLoop(ctx, conn)
	})
	g.Go(func() error {
		return l.writeLoop(ctx, conn)
	})
	g.Go(func() error {
		return l.pingLoop(ctx)
	})

	err := g.Wait()
	l.finish(closeReason(err))
}

func (l *link) controlLoop(conn quic.Connection) error {
	for {
		frame, err := up.ReadFrame(l.control, l.rxid)
		if err != nil {
			if errors.Is(err, up.ErrProtocol) {
				conn.CloseWithError(codeProtocol, err.Error())
			}
			return err
		}

		switch {
		case frame.Ping != nil:
			err = l.writeControl(&up.Frame{Pong: &up.Pong{ID: frame.Ping.ID}})
			if err != nil {
				return err
			}
		case frame.Pong != nil:
			l.pingMutex.Lock()
			t0, found := l.pingMap[frame.Pong.ID]
			delete(l.pingMap, frame.Pong.ID)
			l.pingMutex.Unlock()
			if found {
				l.t.handler.Latency(l, time.Since(t0))
			}
		default:
			log.Printf("%s: %s ignoring unexpected control frame txseq=%d", l.t.options.LogPrefix, l, frame.Txseq)
		}
	}
}

func (l *link) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(l.t.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		id := uuid.NewString()
		l.pingMutex.Lock()
		l.pingMap[id] = time.Now()
		l.pingMutex.Unlock()

		err := l.writeControl(&up.Frame{Ping: &up.Ping{ID: id}})
		if err != nil {
			return err
		}
	}
}

func (l *link) streamLoop(ctx context.Context, g *errgroup.Group, conn quic.Connection) error {
	for {
		s, err := conn.AcceptUniStream(ctx)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return l.readStream(conn, s)
		})
	}
}

func (l *link) readStream(conn quic.Connection, s quic.ReceiveStream) error {
	br := bufio.NewReader(s)

	header := make([]byte, streamHeaderLen)
	_, err := io.ReadFull(br, header)
	if err != nil {
		return nil
	}
	delivery := m.Delivery(header[0])
	channel := m.Channel(header[1])
	if !delivery.Reliable() || !channel.Valid() {
		err = fmt.Errorf("%w: invalid stream header %X", up.ErrProtocol, header)
		conn.CloseWithError(codeProtocol, err.Error())
		return err
	}

	for {
		n, err := varint.ReadUvarint(br)
		if err != nil {
			// stream ended with the session
			return nil
		}
		if n > maxMessageLen {
			err = fmt.Errorf("%w: message length %d is too large", up.ErrProtocol, n)
			conn.CloseWithError(codeProtocol, err.Error())
			return err
		}

		payload := make([]byte, n)
		_, err = io.ReadFull(br, payload)
		if err != nil {
			return nil
		}

		l.t.handler.Data(l, delivery, channel, payload)
	}
}

func (l *link) datagramLoop(ctx context.Context, conn quic.Connection) error {
	var (
		rxseq [m.MaxChannel + 1]uint16
		seen  [m.MaxChannel + 1]bool
	)

	for {
		b, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			return err
		}
		if len(b) < datagramHeaderLen {
			continue
		}

		delivery := m.Delivery(b[0])
		channel := m.Channel(b[1])
		if !delivery.Valid() || delivery.Reliable() || !channel.Valid() {
			continue
		}

		if delivery == m.DeliveryUnreliableSequenced {
			seq := binary.LittleEndian.Uint16(b[2:datagramHeaderLen])
			if seen[channel] && int16(seq-rxseq[channel]) <= 0 {
				// stale or duplicate
				continue
			}
			rxseq[channel] = seq
			seen[channel] = true
		}

		l.t.handler.Data(l, delivery, channel, b[datagramHeaderLen:])
	}
}

// finish runs once per link. A local Disconnect reason takes precedence.
func (l *link) finish(reason string) {
	l.finished.Do(func() {
		l.mutex.Lock()
		if l.localReason != "" {
			reason = l.localReason
		}
		wasConnected := l.everConnected.Load()
		l.setStatus(m.ConnectionStatusDisconnected)
		conn := l.conn
		l.mutex.Unlock()

		if conn != nil {
			conn.CloseWithError(codeNormal, reason)
		}
		l.cancel()
		l.t.removeLink(l)

		if l.t.options.LogDebug {
			log.Printf("%s: %s finished, reason=%s", l.t.options.LogPrefix, l, reason)
		}

		if l.t.inShutdown.Load() {
			return
		}
		if wasConnected || !l.inbound {
			l.t.handler.Status(l, m.ConnectionStatusDisconnected, reason)
		}
	})
}
