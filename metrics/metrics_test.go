package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "github.com/Meander-Cloud/go-rendezvous/message"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	x, err := NewMetrics(reg, "rendezvous", "master")
	require.NoError(t, err)

	x.SetConnections(3)
	x.SetRooms(2)
	x.SetPendingAuths(1)
	x.Command(m.RoomCommandCreate)
	x.Command(m.RoomCommandCreate)
	x.Command(m.RoomCommandJoin)
	x.Drop(DropUnknownRoom)
	x.Admission(true)
	x.Admission(false)
	x.Admission(false)

	assert.Equal(t, 3.0, testutil.ToFloat64(x.connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(x.rooms))
	assert.Equal(t, 1.0, testutil.ToFloat64(x.pendingAuths))
	assert.Equal(t, 2.0, testutil.ToFloat64(x.commands.WithLabelValues("Create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(x.commands.WithLabelValues("Join")))
	assert.Equal(t, 1.0, testutil.ToFloat64(x.drops.WithLabelValues(DropUnknownRoom)))
	assert.Equal(t, 1.0, testutil.ToFloat64(x.admissions.WithLabelValues("accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(x.admissions.WithLabelValues("denied")))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 8, count)
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg, "rendezvous", "peer")
	require.NoError(t, err)

	_, err = NewMetrics(reg, "rendezvous", "peer")
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var x *Metrics
	assert.NotPanics(t, func() {
		x.SetConnections(1)
		x.SetRooms(1)
		x.SetPendingAuths(1)
		x.Command(m.RoomCommandDestroy)
		x.Drop(DropMalformed)
		x.Admission(true)
	})
}
