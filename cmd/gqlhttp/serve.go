package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	config "github.com/hanpama/gqlhttp/internal/config"
	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
	language "github.com/hanpama/gqlhttp/internal/language"
	logging "github.com/hanpama/gqlhttp/internal/logging"
	metrics "github.com/hanpama/gqlhttp/internal/metrics"
	otel "github.com/hanpama/gqlhttp/internal/otel"
	server "github.com/hanpama/gqlhttp/internal/server"
	upstream "github.com/hanpama/gqlhttp/internal/upstream"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve GraphQL over HTTP in front of an upstream GraphQL server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

const shutdownTimeout = 10 * time.Second

// app is the wired handler stack of one serve run.
type app struct {
	mux      *http.ServeMux
	metrics  http.Handler
	executor *upstream.Executor
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.executor.Close()
}

// build wires the GraphQL handler, the upstream executor and the event
// subscribers. When cfg.MetricsListen is empty the metrics endpoint is
// mounted on the main mux.
func build(cfg *config.Config, logger *zap.Logger, reg *prometheus.Registry, bus *eventbus.Bus) (*app, error) {
	sch, err := language.LoadSchemaFiles(cfg.Schema...)
	if err != nil {
		return nil, errors.Wrap(err, "load schema")
	}
	m, err := metrics.New(reg)
	if err != nil {
		return nil, errors.Wrap(err, "register metrics")
	}

	a := &app{mux: http.NewServeMux(), metrics: metrics.Handler(reg)}
	a.closers = append(a.closers, logging.Subscribe(bus, logger), m.Subscribe(bus))

	a.executor = upstream.New(
		upstream.WithProvider(upstream.NewStaticEndpoints(cfg.Upstream)),
		upstream.WithEventBus(bus),
		upstream.WithLogger(logger.Named("upstream")),
	)

	docHit, docMiss := m.CacheHooks("document")
	acceptHit, acceptMiss := m.CacheHooks("accept")
	opts := append(cfg.ServerOptions(),
		server.WithSchema(sch),
		server.WithEventBus(bus),
		server.WithLogger(logger),
		server.WithDocumentCacheHooks(docHit, docMiss),
		server.WithAcceptCacheHooks(acceptHit, acceptMiss),
	)
	h, err := server.New(a.executor, opts...)
	if err != nil {
		a.close()
		return nil, errors.Wrap(err, "server init")
	}
	a.mux.Handle(cfg.Path, h)
	if cfg.MetricsListen == "" {
		a.mux.Handle("/metrics", a.metrics)
	}
	return a, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := eventbus.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	shutdown, err := otel.Setup(ctx, bus, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return errors.Wrap(err, "otel setup")
	}
	defer func() { _ = shutdown(context.Background()) }()

	a, err := build(cfg, logger, reg, bus)
	if err != nil {
		return err
	}
	defer a.close()

	servers := []*http.Server{{Addr: cfg.Listen, Handler: a.mux}}
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics)
		servers = append(servers, &http.Server{Addr: cfg.MetricsListen, Handler: mux})
	}

	listeners := make([]net.Listener, 0, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return errors.Wrapf(err, "listen %s", srv.Addr)
		}
		listeners = append(listeners, ln)
	}
	return run(ctx, logger, servers, listeners)
}

// run serves servers[i] on listeners[i] until ctx is done. Every request
// context derives from one base context that is cancelled when shutdown
// starts, so open event streams and multipart responses end instead of
// holding Shutdown forever.
func run(ctx context.Context, logger *zap.Logger, servers []*http.Server, listeners []net.Listener) error {
	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, srv := range servers {
		srv.BaseContext = func(net.Listener) context.Context { return base }
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		ln := listeners[i]
		g.Go(func() error {
			logger.Info("listening", zap.Stringer("addr", ln.Addr()))
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				return errors.Wrapf(err, "serve %s", ln.Addr())
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		cancel()
		sctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn("shutdown", zap.Error(err))
			}
		}
		return nil
	})
	return g.Wait()
}
