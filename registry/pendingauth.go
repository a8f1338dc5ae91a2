package registry

import (
	"net/netip"
	"time"
)

// PendingAuth gates admission of one joining address on a hosting peer.
type PendingAuth struct {
	Addr  netip.AddrPort
	Token string
	Time  time.Time
}

type PendingAuths struct {
	r *Registry[PendingAuth]
}

func NewPendingAuths() *PendingAuths {
	return &PendingAuths{
		r: New(func(a, b PendingAuth) bool {
			return a.Addr == b.Addr
		}),
	}
}

// Upsert stores auth, replacing any entry for the same address.
func (p *PendingAuths) Upsert(auth PendingAuth) {
	p.r.Replace(auth)
}

// Take removes and returns the entry for addr. A token can be taken once.
func (p *PendingAuths) Take(addr netip.AddrPort) (PendingAuth, bool) {
	return p.r.TakeFunc(func(a PendingAuth) bool { return a.Addr == addr })
}

// Expire removes entries created before t and returns the count.
func (p *PendingAuths) Expire(t time.Time) int {
	return p.r.RemoveFunc(func(a PendingAuth) bool { return a.Time.Before(t) })
}

func (p *PendingAuths) Clear() {
	p.r.Clear()
}

func (p *PendingAuths) Len() int {
	return p.r.Len()
}

func (p *PendingAuths) Snapshot() []PendingAuth {
	return p.r.Snapshot()
}
