package rendezvous

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-rendezvous/config"
	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/net/transport"
	"github.com/Meander-Cloud/go-rendezvous/net/transport/transporttest"
	"github.com/Meander-Cloud/go-rendezvous/packet"
)

const (
	waitFor = time.Second * 3
	tick    = time.Millisecond * 5
)

var (
	addrMaster = netip.MustParseAddrPort("10.0.0.1:7000")
	addrHost   = netip.MustParseAddrPort("10.0.0.2:7001")
	addrJoiner = netip.MustParseAddrPort("10.0.0.3:7002")
	addrOther  = netip.MustParseAddrPort("10.0.0.4:7003")
)

type disconnectEvent struct {
	conn   *Connection
	reason *packet.Packet
}

type pageEvent struct {
	ids   []string
	page  uint8
	pages uint8
}

type operationEvent struct {
	op   m.RoomOperation
	room *Room
}

type foreignEvent struct {
	addr netip.AddrPort
	data []byte
}

// recordingHandler keeps every callback for later assertions.
type recordingHandler struct {
	login          func(*Connection, *packet.Packet) (bool, *packet.Packet)
	panicOnConnect bool

	mutex       sync.Mutex
	logins      []*packet.Packet
	connects    []*Connection
	disconnects []disconnectEvent
	rooms       []*Room
	pages       []pageEvent
	operations  []operationEvent
	data        []*packet.Packet
	foreign     []foreignEvent
	terminated  []error
}

func (h *recordingHandler) Login(conn *Connection, p *packet.Packet) (bool, *packet.Packet) {
	h.mutex.Lock()
	h.logins = append(h.logins, p)
	login := h.login
	h.mutex.Unlock()

	if login != nil {
		return login(conn, p)
	}
	return true, nil
}

func (h *recordingHandler) Connect(conn *Connection) {
	if h.panicOnConnect {
		panic("connect")
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.connects = append(h.connects, conn)
}

func (h *recordingHandler) Latency(*Connection, time.Duration) {

}

func (h *recordingHandler) Disconnect(conn *Connection, reason *packet.Packet) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.disconnects = append(h.disconnects, disconnectEvent{conn: conn, reason: reason})
}

func (h *recordingHandler) Room(room *Room) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.rooms = append(h.rooms, room)
}

func (h *recordingHandler) RoomsPage(ids []string, page, pages uint8) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.pages = append(h.pages, pageEvent{ids: ids, page: page, pages: pages})
}

func (h *recordingHandler) RoomOperation(op m.RoomOperation, room *Room) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.operations = append(h.operations, operationEvent{op: op, room: room})
}

func (h *recordingHandler) Data(_ *Connection, _ m.Delivery, p *packet.Packet, _ m.Channel) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.data = append(h.data, p)
}

func (h *recordingHandler) ForeignData(addr netip.AddrPort, data []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.foreign = append(h.foreign, foreignEvent{addr: addr, data: data})
}

func (h *recordingHandler) Terminate(err error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.terminated = append(h.terminated, err)
}

func locked[T any](h *recordingHandler, s *[]T) []T {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]T(nil), *s...)
}

func (h *recordingHandler) Logins() []*packet.Packet        { return locked(h, &h.logins) }
func (h *recordingHandler) Connects() []*Connection         { return locked(h, &h.connects) }
func (h *recordingHandler) Disconnects() []disconnectEvent  { return locked(h, &h.disconnects) }
func (h *recordingHandler) Rooms() []*Room                  { return locked(h, &h.rooms) }
func (h *recordingHandler) Pages() []pageEvent              { return locked(h, &h.pages) }
func (h *recordingHandler) Payloads() []*packet.Packet      { return locked(h, &h.data) }
func (h *recordingHandler) Foreign() []foreignEvent         { return locked(h, &h.foreign) }
func (h *recordingHandler) Terminated() []error             { return locked(h, &h.terminated) }
func (h *recordingHandler) AllOperations() []operationEvent { return locked(h, &h.operations) }

func (h *recordingHandler) Operations(op m.RoomOperation) []*Room {
	var rooms []*Room
	for _, e := range h.AllOperations() {
		if e.op == op {
			rooms = append(rooms, e.room)
		}
	}
	return rooms
}

func testConfig(name string, addr netip.AddrPort) *config.Config {
	return &config.Config{
		AppID:     "rendezvous-test",
		Address:   addr.String(),
		LogPrefix: name,
	}
}

func startMaster(t *testing.T, network *transporttest.Network, h Handler, c *config.Config, opts ...Option) *Master {
	t.Helper()

	if c == nil {
		c = testConfig("master", addrMaster)
	}
	opts = append([]Option{WithTransport(network.NewTransport(addrMaster))}, opts...)
	x, err := NewMaster(c, h, opts...)
	require.NoError(t, err)
	require.NoError(t, x.Start())
	t.Cleanup(func() {
		x.Shutdown()
	})
	return x
}

func startPeer(t *testing.T, network *transporttest.Network, name string, addr netip.AddrPort, h Handler, c *config.Config, opts ...Option) *Peer {
	t.Helper()

	if c == nil {
		c = testConfig(name, addr)
	}
	opts = append([]Option{WithTransport(network.NewTransport(addr))}, opts...)
	x, err := NewPeer(c, h, opts...)
	require.NoError(t, err)
	require.NoError(t, x.Start())
	t.Cleanup(func() {
		x.Shutdown()
	})
	return x
}

func connectPeer(t *testing.T, x *Peer, master netip.AddrPort, hello *packet.Packet) {
	t.Helper()

	require.NoError(t, x.Connect(master, hello))
	require.Eventually(t, func() bool {
		conn := x.Master()
		return conn != nil && conn.Status() == m.ConnectionStatusConnected
	}, waitFor, tick)
}

// fakeNode drives the wire protocol by hand against a real node.
type fakeNode struct {
	t    *testing.T
	tr   *transporttest.Transport
	rec  *transporttest.Recorder
	link transport.Link
}

func newFakeNode(t *testing.T, network *transporttest.Network, addr netip.AddrPort, autoApprove bool) *fakeNode {
	t.Helper()

	f := &fakeNode{
		t:   t,
		tr:  network.NewTransport(addr),
		rec: &transporttest.Recorder{AutoApprove: autoApprove},
	}
	require.NoError(t, f.tr.Start(f.rec))
	t.Cleanup(func() {
		f.tr.Close()
	})
	return f
}

// dial connects to a real node and waits for approval.
func (f *fakeNode) dial(addr netip.AddrPort, hello []byte) {
	f.t.Helper()

	l, err := f.tr.Connect(addr, hello)
	require.NoError(f.t, err)
	f.link = l

	require.Eventually(f.t, func() bool {
		return len(f.statuses(m.ConnectionStatusConnected)) == 1
	}, waitFor, tick)
}

// accepted waits for the first inbound session of an auto-approving node.
func (f *fakeNode) accepted() transport.Link {
	f.t.Helper()

	require.Eventually(f.t, func() bool {
		return len(f.rec.Filter(transporttest.EventApproval)) > 0
	}, waitFor, tick)
	f.link = f.rec.Filter(transporttest.EventApproval)[0].Link
	return f.link
}

func (f *fakeNode) statuses(status m.ConnectionStatus) []transporttest.Event {
	var matched []transporttest.Event
	for _, e := range f.rec.Filter(transporttest.EventStatus) {
		if e.Status == status {
			matched = append(matched, e)
		}
	}
	return matched
}

func (f *fakeNode) send(delivery m.Delivery, channel m.Channel, payload []byte) {
	f.t.Helper()
	require.NoError(f.t, f.link.Send(delivery, channel, payload))
}

func (f *fakeNode) sendRoom(payload []byte) {
	f.t.Helper()
	f.send(m.DeliveryReliableOrdered, m.ChannelRoom, payload)
}

// received returns readers positioned after the command byte of every
// room message of type cmd.
func (f *fakeNode) received(cmd m.RoomCommand) []*packet.Reader {
	var readers []*packet.Reader
	for _, e := range f.rec.Filter(transporttest.EventData) {
		dataType, r, err := m.DecodeHeader(e.Payload)
		if err != nil || dataType != m.DataTypeRoom {
			continue
		}
		got, err := m.DecodeRoomCommand(r)
		if err != nil || got != cmd {
			continue
		}
		readers = append(readers, r)
	}
	return readers
}

func (f *fakeNode) waitReceived(cmd m.RoomCommand, count int) []*packet.Reader {
	f.t.Helper()

	require.Eventually(f.t, func() bool {
		return len(f.received(cmd)) >= count
	}, waitFor, tick)
	return f.received(cmd)
}

// attempt dials addr once and returns the reason of the resulting
// disconnect, or "" when the session was approved.
func (f *fakeNode) attempt(addr netip.AddrPort, hello []byte) string {
	f.t.Helper()

	connected := len(f.statuses(m.ConnectionStatusConnected))
	disconnected := len(f.statuses(m.ConnectionStatusDisconnected))

	l, err := f.tr.Connect(addr, hello)
	require.NoError(f.t, err)

	require.Eventually(f.t, func() bool {
		return len(f.statuses(m.ConnectionStatusConnected)) > connected ||
			len(f.statuses(m.ConnectionStatusDisconnected)) > disconnected
	}, waitFor, tick)

	if len(f.statuses(m.ConnectionStatusConnected)) > connected {
		f.link = l
		return ""
	}
	events := f.statuses(m.ConnectionStatusDisconnected)
	return events[len(events)-1].Reason
}

func fakeAddr(i int) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 1, 0, byte(i)}), 8000)
}

func newMockClock() *clock.Mock {
	c := clock.NewMock()
	c.Set(time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC))
	return c
}
