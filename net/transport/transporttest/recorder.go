package transporttest

import (
	"net/netip"
	"sync"
	"time"

	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/net/transport"
)

type EventKind uint8

const (
	EventApproval EventKind = iota + 1
	EventStatus
	EventData
	EventLatency
	EventUnconnected
	EventFault
)

type Event struct {
	Kind     EventKind
	Link     transport.Link
	Status   m.ConnectionStatus
	Reason   string
	Delivery m.Delivery
	Channel  m.Channel
	Payload  []byte
	Addr     netip.AddrPort
	RTT      time.Duration
	Err      error
}

// Recorder is a transport.Handler that keeps every event. With
// AutoApprove set it approves inbound handshakes immediately.
type Recorder struct {
	AutoApprove bool

	mutex  sync.Mutex
	events []Event
}

func (r *Recorder) record(e Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Event(nil), r.events...)
}

// Filter returns recorded events of one kind.
func (r *Recorder) Filter(kind EventKind) []Event {
	var matched []Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			matched = append(matched, e)
		}
	}
	return matched
}

func (r *Recorder) Approval(l transport.Link, hello []byte) {
	r.record(Event{Kind: EventApproval, Link: l, Payload: hello, Addr: l.RemoteAddr()})
	if r.AutoApprove {
		l.Approve()
	}
}

func (r *Recorder) Status(l transport.Link, status m.ConnectionStatus, reason string) {
	r.record(Event{Kind: EventStatus, Link: l, Status: status, Reason: reason, Addr: l.RemoteAddr()})
}

func (r *Recorder) Data(l transport.Link, delivery m.Delivery, channel m.Channel, payload []byte) {
	r.record(Event{Kind: EventData, Link: l, Delivery: delivery, Channel: channel, Payload: payload, Addr: l.RemoteAddr()})
}

func (r *Recorder) Latency(l transport.Link, rtt time.Duration) {
	r.record(Event{Kind: EventLatency, Link: l, RTT: rtt, Addr: l.RemoteAddr()})
}

func (r *Recorder) Unconnected(addr netip.AddrPort, data []byte) {
	r.record(Event{Kind: EventUnconnected, Payload: data, Addr: addr})
}

func (r *Recorder) Fault(err error) {
	r.record(Event{Kind: EventFault, Err: err})
}
