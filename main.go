package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/Meander-Cloud/go-rendezvous/config"
	m "github.com/Meander-Cloud/go-rendezvous/message"
	"github.com/Meander-Cloud/go-rendezvous/metrics"
	"github.com/Meander-Cloud/go-rendezvous/packet"
	"github.com/Meander-Cloud/go-rendezvous/rendezvous"
)

const (
	metricsNamespace = "rendezvous"
	defaultLogPrefix = "master"
)

// masterHandler logs room activity and stops the app when the master dies.
type masterHandler struct {
	rendezvous.NopHandler

	LogPrefix  string
	shutdowner fx.Shutdowner
}

func (h *masterHandler) Connect(conn *rendezvous.Connection) {
	log.Printf("%s: Connect: %s, packet=%s", h.LogPrefix, conn, conn.Packet())
}

func (h *masterHandler) Disconnect(conn *rendezvous.Connection, reason *packet.Packet) {
	log.Printf("%s: Disconnect: %s, reason=%s", h.LogPrefix, conn, reason)
}

func (h *masterHandler) RoomOperation(op m.RoomOperation, room *rendezvous.Room) {
	log.Printf("%s: RoomOperation: %s %s, owner=%s, attrs=%s", h.LogPrefix, op, room, room.Owner(), room.Attributes())
}

func (h *masterHandler) Terminate(err error) {
	if err == nil {
		return
	}
	log.Printf("%s: Terminate: err=%s", h.LogPrefix, err.Error())

	shutdownErr := h.shutdowner.Shutdown(fx.ExitCode(1))
	if shutdownErr != nil {
		log.Printf("%s: failed to request shutdown, err=%s", h.LogPrefix, shutdownErr.Error())
	}
}

func newConfig(envFiles []string) (*config.Config, error) {
	c, err := config.FromEnv(envFiles...)
	if err != nil {
		return nil, err
	}
	if c.LogPrefix == "" {
		c.LogPrefix = defaultLogPrefix
	}
	return c, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newMetrics(reg *prometheus.Registry) (*metrics.Metrics, error) {
	return metrics.NewMetrics(reg, metricsNamespace, "master")
}

func newMaster(c *config.Config, x *metrics.Metrics, shutdowner fx.Shutdowner) (*rendezvous.Master, error) {
	return rendezvous.NewMaster(
		c,
		&masterHandler{
			LogPrefix:  c.LogPrefix,
			shutdowner: shutdowner,
		},
		rendezvous.WithMetrics(x),
	)
}

func registerMaster(lc fx.Lifecycle, x *rendezvous.Master) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return x.Start()
		},
		OnStop: func(_ context.Context) error {
			return x.Shutdown()
		},
	})
}

func registerMetricsServer(lc fx.Lifecycle, c *config.Config, reg *prometheus.Registry) {
	if c.MetricsAddress == "" {
		// disabled
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{
		Addr:    c.MetricsAddress,
		Handler: mux,
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", c.MetricsAddress)
			if err != nil {
				err = fmt.Errorf("%s: failed to listen metrics address=%s, err=%w", c.LogPrefix, c.MetricsAddress, err)
				log.Printf("%s", err.Error())
				return err
			}
			log.Printf("%s: serving metrics on %s", c.LogPrefix, ln.Addr())

			go func() {
				err := server.Serve(ln)
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Printf("%s: metrics server exited, err=%s", c.LogPrefix, err.Error())
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}

func main() {
	// enable microsecond and file line logging
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	flag.Parse()
	envFiles := flag.Args()

	app := fx.New(
		fx.Supply(envFiles),
		fx.Provide(
			newConfig,
			newRegistry,
			newMetrics,
			newMaster,
		),
		fx.Invoke(
			registerMaster,
			registerMetricsServer,
		),
	)
	app.Run() // wait
}
