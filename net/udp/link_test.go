package udp

import (
	"context"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/net/transport"
)

// stalledStream never drains, as when the peer's flow control window is full.
type stalledStream struct {
	quic.SendStream

	mutex    sync.Mutex
	deadline time.Time
	writes   atomic.Int32
	release  chan struct{}
}

func (s *stalledStream) SetWriteDeadline(t time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.deadline = t
	return nil
}

func (s *stalledStream) Write(b []byte) (int, error) {
	s.writes.Add(1)

	s.mutex.Lock()
	deadline := s.deadline
	s.mutex.Unlock()

	select {
	case <-time.After(time.Until(deadline)):
		return 0, os.ErrDeadlineExceeded
	case <-s.release:
		return 0, os.ErrDeadlineExceeded
	}
}

type stalledConn struct {
	quic.Connection

	stream *stalledStream

	mutex   sync.Mutex
	reasons []string
}

func (c *stalledConn) OpenUniStreamSync(context.Context) (quic.SendStream, error) {
	return c.stream, nil
}

func (c *stalledConn) CloseWithError(_ quic.ApplicationErrorCode, reason string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.reasons = append(c.reasons, reason)
	return nil
}

func (c *stalledConn) Reasons() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]string(nil), c.reasons...)
}

func newStalledLink(t *testing.T, writeTimeout time.Duration) (*link, *stalledConn) {
	t.Helper()

	tr, err := NewTransport(&Options{
		AppID:             "rendezvous-test",
		Address:           "127.0.0.1:0",
		HandshakeTimeout:  time.Second,
		ConnectionTimeout: time.Second,
		PingInterval:      time.Second,
		WriteTimeout:      writeTimeout,
		LogPrefix:         "stalled",
	})
	require.NoError(t, err)

	conn := &stalledConn{
		stream: &stalledStream{release: make(chan struct{})},
	}
	t.Cleanup(func() {
		close(conn.stream.release)
	})

	l := newLink(tr, netip.MustParseAddrPort("127.0.0.1:9000"), false)
	l.mutex.Lock()
	l.conn = conn
	l.mutex.Unlock()
	l.setStatus(m.ConnectionStatusConnected)
	return l, conn
}

func TestLink_SendDoesNotWaitForPeer(t *testing.T) {
	l, conn := newStalledLink(t, time.Millisecond*200)

	errch := make(chan error, 1)
	go func() {
		errch <- l.writeLoop(context.Background(), conn)
	}()

	start := time.Now()
	for range sendQueueLen {
		require.NoError(t, l.Send(m.DeliveryReliableOrdered, m.ChannelRoom, []byte("room")))
	}
	assert.Less(t, time.Since(start), time.Millisecond*200)

	var err error
	select {
	case err = <-errch:
	case <-time.After(waitFor):
		require.Fail(t, "writer never gave up")
	}
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Equal(t, int32(1), conn.stream.writes.Load())
	assert.Equal(t, []string{ReasonWriteTimedOut}, conn.Reasons())

	assert.ErrorIs(t, l.Send(m.DeliveryReliableOrdered, m.ChannelRoom, []byte("late")), transport.ErrNotConnected)
}

func TestLink_SendQueueFull(t *testing.T) {
	l, conn := newStalledLink(t, time.Hour)

	// no writer, the queue only fills
	for range sendQueueLen {
		require.NoError(t, l.Send(m.DeliveryReliableSequenced, m.ChannelRoomsPage, []byte("page")))
	}
	assert.ErrorIs(t, l.Send(m.DeliveryReliableSequenced, m.ChannelRoomsPage, []byte("page")), transport.ErrQueueFull)
	assert.Equal(t, []string{ReasonSendQueueFull}, conn.Reasons())

	assert.ErrorIs(t, l.Send(m.DeliveryReliableOrdered, m.ChannelRoom, []byte("late")), transport.ErrNotConnected)
	assert.Zero(t, conn.stream.writes.Load())
}
