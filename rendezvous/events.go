package rendezvous

import (
	"log"
	"net/netip"
	"time"

	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/net/transport"
)

// events moves transport callbacks onto the arbiter goroutine.
type events struct {
	n    *node
	role roleEvents
}

func (e *events) Approval(l transport.Link, hello []byte) {
	err := e.n.dispatch(func() {
		// invoked on arbiter goroutine
		e.role.approval(l, hello)
	})
	if err != nil {
		l.Deny(ReasonUnknown)
	}
}

func (e *events) Status(l transport.Link, status m.ConnectionStatus, reason string) {
	err := e.n.dispatch(func() {
		// invoked on arbiter goroutine
		e.role.status(l, status, reason)
	})
	if err != nil && e.n.alive.Load() {
		log.Printf("%s: lost status=%s of %s, reason=%s", e.n.c.LogPrefix, status, l.RemoteAddr(), reason)
	}
}

func (e *events) Data(l transport.Link, delivery m.Delivery, channel m.Channel, payload []byte) {
	e.n.dispatch(func() {
		// invoked on arbiter goroutine
		e.role.data(l, delivery, channel, payload)
	})
}

func (e *events) Latency(l transport.Link, rtt time.Duration) {
	e.n.dispatch(func() {
		// invoked on arbiter goroutine
		e.role.latency(l, rtt)
	})
}

func (e *events) Unconnected(addr netip.AddrPort, data []byte) {
	e.n.dispatch(func() {
		// invoked on arbiter goroutine
		e.n.h.ForeignData(addr, data)
	})
}

func (e *events) Fault(err error) {
	log.Printf("%s: transport fault, err=%s", e.n.c.LogPrefix, err.Error())
	dispatchErr := e.n.a.Dispatch(func() {
		// invoked on arbiter goroutine
		e.n.terminate(err)
	})
	if dispatchErr != nil {
		go e.n.terminate(err)
	}
}
