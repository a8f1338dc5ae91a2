package rendezvous

import (
	"log"

	"github.com/Meander-Cloud/go-schedule/scheduler"

	"github.com/Meander-Cloud/go-rendezvous/arbiter"
	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/net/transport"
	"github.com/Meander-Cloud/go-rendezvous/packet"
	"github.com/Meander-Cloud/go-rendezvous/registry"
)

// CreateRoom registers a room with the Master and starts accepting joins.
func (x *Peer) CreateRoom(attrs *packet.Packet) error {
	if attrs == nil {
		return ErrNilPacket
	}
	if x.connectedMaster() == nil {
		return ErrNotConnected
	}
	if x.hosting.Load() {
		return ErrAlreadyHosting
	}
	attrs = attrs.Clone()

	return x.dispatch(func() {
		// invoked on arbiter goroutine
		master := x.connectedMaster()
		if master == nil || !x.hosting.CompareAndSwap(false, true) {
			return
		}
		x.roomAttrs.Store(attrs)
		x.refreshGauges()

		create := &m.RoomCreate{
			Attributes: attrs,
		}
		x.sendRoom(master, m.DeliveryReliableOrdered, m.ChannelRoom, create.Encode())
		x.scheduleSweep()

		log.Printf("%s: hosting, attrs=%s", x.c.LogPrefix, attrs)
	})
}

// UpdateRoom updates the hosted room on the Master and pushes the merged
// attributes to every connected client.
func (x *Peer) UpdateRoom(mode m.RoomUpdateType, attrs *packet.Packet) error {
	if attrs == nil {
		return ErrNilPacket
	}
	if !mode.Valid() {
		return ErrInvalidUpdateType
	}
	if !x.hosting.Load() {
		return ErrNotHosting
	}
	attrs = attrs.Clone()

	return x.dispatch(func() {
		// invoked on arbiter goroutine
		if !x.hosting.Load() {
			return
		}

		var merged *packet.Packet
		if mode == m.RoomUpdateTypeChange {
			merged = attrs
		} else {
			merged = x.roomAttrs.Load().Clone().Merge(attrs)
		}
		x.roomAttrs.Store(merged)

		master := x.connectedMaster()
		if master != nil {
			update := &m.RoomUpdate{
				Type:       mode,
				Attributes: attrs,
			}
			x.sendRoom(master, m.DeliveryReliableOrdered, m.ChannelRoom, update.Encode())
		}

		payload := (&m.RoomAttributes{Attributes: merged}).Encode()
		for _, client := range x.clients.Snapshot() {
			if client.Status() != m.ConnectionStatusConnected {
				continue
			}
			x.sendRoom(client, m.DeliveryReliableOrdered, m.ChannelRoom, payload)
		}
	})
}

// DestroyRoom disconnects every client and removes the room from the
// Master.
func (x *Peer) DestroyRoom() error {
	if !x.hosting.Load() {
		return ErrNotHosting
	}

	return x.dispatch(func() {
		// invoked on arbiter goroutine
		x.stopHosting(true)
	})
}

// invoked on arbiter goroutine
func (x *Peer) stopHosting(notifyMaster bool) {
	wasHosting := x.hosting.Swap(false)
	x.roomAttrs.Store(nil)

	for _, client := range x.clients.Snapshot() {
		x.disconnect(client, reasonPacket(ReasonRoomClosed), reasonServerClosed)
	}
	x.clients.Clear()
	x.auths.Clear()
	x.releaseSweep()
	x.refreshGauges()

	if !wasHosting {
		return
	}
	log.Printf("%s: stopped hosting", x.c.LogPrefix)

	if notifyMaster {
		master := x.connectedMaster()
		if master != nil {
			x.sendRoom(master, m.DeliveryReliableOrdered, m.ChannelRoom, (&m.RoomDestroy{}).Encode())
		}
	}
}

// approval admits a joiner that presents the token minted for its
// address. The token is consumed whatever the outcome.
//
// invoked on arbiter goroutine
func (x *Peer) approval(l transport.Link, hello []byte) {
	if !x.hosting.Load() {
		x.deny(l, ReasonPeerNotHosting)
		return
	}

	jh, err := m.DecodeJoinHello(hello)
	if err != nil {
		x.deny(l, ReasonBadAuthentication)
		return
	}

	auth, found := x.auths.Take(l.RemoteAddr())
	x.refreshGauges()
	if !found {
		x.deny(l, ReasonAuthNotFound)
		return
	}
	if auth.Token != jh.Token {
		x.deny(l, ReasonAuthFailed)
		return
	}
	if registered(x.clients, m.ConnectionTypeClient, l.RemoteAddr()) {
		x.deny(l, EncodeReason(nil, ReasonLoginRefused))
		return
	}

	conn := x.login(l, m.ConnectionTypeClient, jh.Attributes)
	if conn == nil {
		return
	}

	if !x.clients.Add(conn) {
		x.deny(l, EncodeReason(nil, ReasonLoginRefused))
		return
	}
	x.refreshGauges()

	x.approve(conn)
}

// invoked on arbiter goroutine
func (x *Peer) roomAuth(master *Connection, r *packet.Reader) {
	if !x.hosting.Load() {
		return
	}

	msg, err := m.DecodeRoomAuth(r)
	if err != nil {
		return
	}

	now := x.clock.Now()
	auth := registry.PendingAuth{
		Addr:  msg.Requester,
		Token: newToken(msg.Requester, now),
		Time:  now,
	}
	x.auths.Upsert(auth)
	x.refreshGauges()

	// loss is tolerated, the joiner's handshake retries the same path
	err = x.t.SendUnconnected(msg.Requester, holePunch)
	if err != nil {
		log.Printf("%s: failed to punch %s, err=%s", x.c.LogPrefix, msg.Requester, err.Error())
	}

	accept := &m.RoomAccept{
		Requester: msg.Requester,
		Token:     auth.Token,
	}
	x.sendRoom(master, m.DeliveryReliableOrdered, m.ChannelRoom, accept.Encode())

	if x.c.LogDebug {
		log.Printf("%s: accepted join from %s", x.c.LogPrefix, msg.Requester)
	}
}

// invoked on arbiter goroutine
func (x *Peer) scheduleSweep() {
	timeout := x.c.PendingAuthTimeoutDuration()
	if timeout == 0 || x.sweepScheduled {
		// no-op
		return
	}

	group := arbiter.GroupPendingAuthSweep

	x.a.Scheduler().ProcessSync(
		&scheduler.ScheduleAsyncEvent[arbiter.Group]{
			AsyncVariant: scheduler.TimerAsync(
				true,
				[]arbiter.Group{group},
				timeout,
				func() {
					// invoked on arbiter goroutine
					x.sweepScheduled = false

					if !x.alive.Load() || !x.hosting.Load() {
						return
					}

					x.sweepPendingAuths()
					x.scheduleSweep()
				},
				nil,
			),
		},
	)

	x.sweepScheduled = true
}

// invoked on arbiter goroutine
func (x *Peer) releaseSweep() {
	if !x.sweepScheduled {
		// no-op
		return
	}

	x.a.Scheduler().ProcessSync(
		&scheduler.ReleaseGroupEvent[arbiter.Group]{
			Group: arbiter.GroupPendingAuthSweep,
		},
	)

	x.sweepScheduled = false
}

// sweepPendingAuths drops tokens older than PendingAuthTimeout.
//
// invoked on arbiter goroutine
func (x *Peer) sweepPendingAuths() int {
	timeout := x.c.PendingAuthTimeoutDuration()
	if timeout == 0 {
		return 0
	}

	expired := x.auths.Expire(x.clock.Now().Add(-timeout))
	if expired > 0 {
		x.refreshGauges()
		log.Printf("%s: expired %d pending auths", x.c.LogPrefix, expired)
	}
	return expired
}
