package udp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/net/transport"
	"github.com/Meander-Cloud/go-rendezvous/net/transport/transporttest"
)

const (
	waitFor = time.Second * 5
	tick    = time.Millisecond * 10
)

func newLoopback(t *testing.T, name string, h *transporttest.Recorder) *Transport {
	t.Helper()

	tr, err := NewTransport(&Options{
		AppID:             "rendezvous-test",
		Address:           "127.0.0.1:0",
		HandshakeTimeout:  time.Second * 2,
		ConnectionTimeout: time.Second * 5,
		PingInterval:      time.Millisecond * 200,
		LogPrefix:         name,
	})
	require.NoError(t, err)
	require.NoError(t, tr.Start(h))
	t.Cleanup(func() {
		tr.Close()
	})
	return tr
}

func statusEvents(r *transporttest.Recorder, status m.ConnectionStatus) []transporttest.Event {
	var matched []transporttest.Event
	for _, e := range r.Filter(transporttest.EventStatus) {
		if e.Status == status {
			matched = append(matched, e)
		}
	}
	return matched
}

func TestTransport_ConnectSendDisconnect(t *testing.T) {
	ra := &transporttest.Recorder{}
	rb := &transporttest.Recorder{AutoApprove: true}
	a := newLoopback(t, "a", ra)
	b := newLoopback(t, "b", rb)

	la, err := a.Connect(b.LocalAddr(), []byte("hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(statusEvents(ra, m.ConnectionStatusConnected)) == 1 &&
			len(statusEvents(rb, m.ConnectionStatusConnected)) == 1
	}, waitFor, tick)

	approvals := rb.Filter(transporttest.EventApproval)
	require.Len(t, approvals, 1)
	assert.Equal(t, []byte("hello"), approvals[0].Payload)
	assert.Equal(t, a.LocalAddr(), approvals[0].Addr)

	require.NoError(t, la.Send(m.DeliveryReliableOrdered, m.ChannelRoom, []byte("one")))
	require.NoError(t, la.Send(m.DeliveryReliableOrdered, m.ChannelRoom, []byte("two")))
	require.NoError(t, la.Send(m.DeliveryReliableSequenced, m.ChannelRoomsPage, []byte("page")))

	require.Eventually(t, func() bool {
		return len(rb.Filter(transporttest.EventData)) == 3
	}, waitFor, tick)

	var room [][]byte
	for _, e := range rb.Filter(transporttest.EventData) {
		if e.Channel == m.ChannelRoom {
			assert.Equal(t, m.DeliveryReliableOrdered, e.Delivery)
			room = append(room, e.Payload)
		} else {
			assert.Equal(t, m.ChannelRoomsPage, e.Channel)
			assert.Equal(t, []byte("page"), e.Payload)
		}
	}
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, room)

	require.Eventually(t, func() bool {
		return len(ra.Filter(transporttest.EventLatency)) > 0
	}, waitFor, tick)

	require.NoError(t, la.Disconnect("bye"))

	require.Eventually(t, func() bool {
		return len(statusEvents(ra, m.ConnectionStatusDisconnected)) == 1 &&
			len(statusEvents(rb, m.ConnectionStatusDisconnected)) == 1
	}, waitFor, tick)
	assert.Equal(t, "bye", statusEvents(ra, m.ConnectionStatusDisconnected)[0].Reason)
	assert.Equal(t, "bye", statusEvents(rb, m.ConnectionStatusDisconnected)[0].Reason)

	assert.ErrorIs(t, la.Send(m.DeliveryReliableOrdered, m.ChannelRoom, []byte("late")), transport.ErrNotConnected)
}

func TestTransport_Deny(t *testing.T) {
	ra := &transporttest.Recorder{}
	rb := &transporttest.Recorder{}
	a := newLoopback(t, "a", ra)
	b := newLoopback(t, "b", rb)

	_, err := a.Connect(b.LocalAddr(), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rb.Filter(transporttest.EventApproval)) == 1
	}, waitFor, tick)
	approval := rb.Filter(transporttest.EventApproval)[0]
	require.NoError(t, approval.Link.Deny("Peer not hosting"))
	assert.Error(t, approval.Link.Approve())

	require.Eventually(t, func() bool {
		return len(statusEvents(ra, m.ConnectionStatusDisconnected)) == 1
	}, waitFor, tick)
	assert.Equal(t, "Peer not hosting", statusEvents(ra, m.ConnectionStatusDisconnected)[0].Reason)
	assert.Empty(t, statusEvents(ra, m.ConnectionStatusConnected))

	// never connected inbound links stay silent
	time.Sleep(tick * 5)
	assert.Empty(t, rb.Filter(transporttest.EventStatus))
}

func TestTransport_Unreachable(t *testing.T) {
	ra := &transporttest.Recorder{}
	a := newLoopback(t, "a", ra)

	_, err := a.Connect(netip.MustParseAddrPort("127.0.0.1:9"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(statusEvents(ra, m.ConnectionStatusDisconnected)) == 1
	}, waitFor, tick)
	assert.Equal(t, ReasonUnreachable, statusEvents(ra, m.ConnectionStatusDisconnected)[0].Reason)
}

func TestTransport_Unconnected(t *testing.T) {
	ra := &transporttest.Recorder{}
	rb := &transporttest.Recorder{}
	a := newLoopback(t, "a", ra)
	b := newLoopback(t, "b", rb)

	assert.Error(t, a.SendUnconnected(b.LocalAddr(), nil))
	assert.Error(t, a.SendUnconnected(b.LocalAddr(), []byte{0x40, 0x01}))

	require.NoError(t, a.SendUnconnected(b.LocalAddr(), []byte{0x00, 'S', 'A'}))

	require.Eventually(t, func() bool {
		return len(rb.Filter(transporttest.EventUnconnected)) == 1
	}, waitFor, tick)
	e := rb.Filter(transporttest.EventUnconnected)[0]
	assert.Equal(t, a.LocalAddr(), e.Addr)
	assert.Equal(t, []byte{0x00, 'S', 'A'}, e.Payload)
}

func TestTransport_UnconnectedRightAfterStart(t *testing.T) {
	a := newLoopback(t, "a", &transporttest.Recorder{})

	for range 10 {
		rb := &transporttest.Recorder{}
		b := newLoopback(t, "b", rb)

		// no pause between Start and the first datagram
		require.NoError(t, a.SendUnconnected(b.LocalAddr(), []byte{0x00, 'S', 'A'}))

		require.Eventually(t, func() bool {
			return len(rb.Filter(transporttest.EventUnconnected)) == 1
		}, waitFor, tick)
		require.NoError(t, b.Close())
	}
}

func TestTransport_CloseIsQuiet(t *testing.T) {
	ra := &transporttest.Recorder{}
	rb := &transporttest.Recorder{AutoApprove: true}
	a := newLoopback(t, "a", ra)
	b := newLoopback(t, "b", rb)

	_, err := a.Connect(b.LocalAddr(), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(statusEvents(rb, m.ConnectionStatusConnected)) == 1
	}, waitFor, tick)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	require.Eventually(t, func() bool {
		return len(statusEvents(ra, m.ConnectionStatusDisconnected)) == 1
	}, waitFor, tick)
	assert.Equal(t, ReasonTransportClosed, statusEvents(ra, m.ConnectionStatusDisconnected)[0].Reason)
	assert.Empty(t, statusEvents(rb, m.ConnectionStatusDisconnected))
	assert.Empty(t, rb.Filter(transporttest.EventFault))
}
