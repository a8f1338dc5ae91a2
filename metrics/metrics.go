// Package metrics holds the Prometheus collectors of one rendezvous node.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	m "github.com/Meander-Cloud/go-rendezvous/message"
)

const (
	DropMalformed    = "malformed"
	DropUnknownRoom  = "unknown_room"
	DropInvalidState = "invalid_state"
	DropRateLimited  = "rate_limited"
	DropUnknownConn  = "unknown_connection"
)

type Metrics struct {
	connections  prometheus.Gauge
	rooms        prometheus.Gauge
	pendingAuths prometheus.Gauge
	commands     *prometheus.CounterVec
	drops        *prometheus.CounterVec
	admissions   *prometheus.CounterVec
}

// NewMetrics registers every collector on reg under namespace and role.
func NewMetrics(reg prometheus.Registerer, namespace, role string) (*Metrics, error) {
	labels := prometheus.Labels{"role": role}

	x := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connections",
			Help:        "Registered connections.",
			ConstLabels: labels,
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "rooms",
			Help:        "Registered rooms.",
			ConstLabels: labels,
		}),
		pendingAuths: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "pending_auths",
			Help:        "Join tokens awaiting a handshake.",
			ConstLabels: labels,
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "room_commands_total",
			Help:        "Room commands received, by command.",
			ConstLabels: labels,
		}, []string{"command"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "drops_total",
			Help:        "Inbound messages dropped, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "admissions_total",
			Help:        "Inbound handshakes decided, by result.",
			ConstLabels: labels,
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{
		x.connections,
		x.rooms,
		x.pendingAuths,
		x.commands,
		x.drops,
		x.admissions,
	} {
		err := reg.Register(c)
		if err != nil {
			err = fmt.Errorf("failed to register %s metrics, err=%w", role, err)
			log.Printf("%s", err.Error())
			return nil, err
		}
	}

	return x, nil
}

func (x *Metrics) SetConnections(n int) {
	if x == nil {
		return
	}
	x.connections.Set(float64(n))
}

func (x *Metrics) SetRooms(n int) {
	if x == nil {
		return
	}
	x.rooms.Set(float64(n))
}

func (x *Metrics) SetPendingAuths(n int) {
	if x == nil {
		return
	}
	x.pendingAuths.Set(float64(n))
}

func (x *Metrics) Command(cmd m.RoomCommand) {
	if x == nil {
		return
	}
	x.commands.WithLabelValues(cmd.String()).Inc()
}

func (x *Metrics) Drop(reason string) {
	if x == nil {
		return
	}
	x.drops.WithLabelValues(reason).Inc()
}

func (x *Metrics) Admission(accepted bool) {
	if x == nil {
		return
	}
	result := "denied"
	if accepted {
		result = "accepted"
	}
	x.admissions.WithLabelValues(result).Inc()
}
