package rendezvous

import (
	"fmt"
	"net/netip"
	"sync/atomic"

	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/packet"
)

// Room is a discoverable handle to a hosted session. A room received from
// the Master has no owner.
type Room struct {
	id    string
	owner netip.AddrPort

	// published packets are never modified
	attrs atomic.Pointer[packet.Packet]
}

func newRoom(id string, owner netip.AddrPort, attrs *packet.Packet) *Room {
	if attrs == nil {
		attrs = packet.New()
	}
	room := &Room{
		id:    id,
		owner: owner,
	}
	room.attrs.Store(attrs)
	return room
}

func sameRoom(a, b *Room) bool {
	return a.owner == b.owner
}

func (r *Room) ID() string {
	return r.id
}

// Owner is the owning connection's address, invalid on a remote mirror.
func (r *Room) Owner() netip.AddrPort {
	return r.owner
}

// Attributes returns the current attributes. Callers must not modify them.
func (r *Room) Attributes() *packet.Packet {
	return r.attrs.Load()
}

// apply replaces or merges attrs. An invalid mode changes nothing.
func (r *Room) apply(mode m.RoomUpdateType, attrs *packet.Packet) bool {
	switch mode {
	case m.RoomUpdateTypeChange:
		r.attrs.Store(attrs.Clone())
	case m.RoomUpdateTypeAdditive:
		r.attrs.Store(r.attrs.Load().Clone().Merge(attrs))
	default:
		return false
	}
	return true
}

func (r *Room) String() string {
	return fmt.Sprintf("room<%s>", r.id)
}
