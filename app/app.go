// Package app assembles a scryer runtime from configuration: the RPC client
// and event correlator over one pair of channels, the link monitor watching
// them, and the HTTP and MCP surfaces on top.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbocsi/scryer/apparatus"
	"github.com/mbocsi/scryer/client"
	"github.com/mbocsi/scryer/config"
	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/linkmon"
	"github.com/mbocsi/scryer/mcp"
	"github.com/mbocsi/scryer/metrics"
	"github.com/mbocsi/scryer/proto"
	"github.com/mbocsi/scryer/scry"
	"github.com/mbocsi/scryer/services"
	"github.com/mbocsi/scryer/transport"
	"github.com/mbocsi/scryer/web"
)

// App is one scryer runtime bound to a decide server.
type App struct {
	Codec     *proto.Codec
	Client    *client.Client
	Scry      *scry.Correlator
	Apparatus *apparatus.Apparatus
	Monitor   *linkmon.Monitor
	Latest    *scry.Latest
	Metrics   *metrics.Metrics
	Services  *services.ServiceContainer

	web      *web.WebClient
	mcp      *mcp.MCPServer
	channels *Channels
	httpAddr string
	logger   *slog.Logger
}

// New wires a runtime over already open channels. The channels are closed
// when Run returns.
func New(cfg *config.Config, ch *Channels, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	codec, err := cfg.NewCodec(logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	latest := scry.NewLatest()
	stream := web.NewStream(logger)
	a := &App{
		Codec:    codec,
		Latest:   latest,
		Metrics:  m,
		channels: ch,
		httpAddr: cfg.HTTP.Addr,
		logger:   logger,
	}

	a.Client = client.New(client.Config{Timeout: cfg.Command.Timeout}, codec, ch.Command,
		client.WithMetrics(m), client.WithLogger(logger))
	a.Scry = scry.New(scry.Config{QueueSize: cfg.Telemetry.QueueSize}, codec, ch.Telemetry,
		scry.WithMetrics(m), scry.WithLogger(logger),
		scry.WithSink(latest), scry.WithSink(stream), scry.WithSink(scry.LogSink(logger.With("audit", true))))
	if err := a.Scry.SubscribeAll(); err != nil {
		return nil, err
	}
	a.Apparatus = apparatus.New(apparatus.Config{}, a.Client, a.Scry, apparatus.WithLogger(logger))

	var sources []linkmon.Source
	if n, ok := ch.Command.(transport.Notifier); ok {
		sources = append(sources, linkmon.Source{Name: "command", Notifier: n})
	}
	if n, ok := ch.Telemetry.(transport.Notifier); ok {
		sources = append(sources, linkmon.Source{Name: "telemetry", Notifier: n})
	}
	a.Monitor = linkmon.New(linkmon.Config{Interval: cfg.Link.Interval}, sources,
		linkmon.WithMetrics(m), linkmon.WithLogger(logger))

	a.Services = services.NewServiceManager(a.Client, a.Scry, latest, a.Monitor, a.Apparatus).GetServices()
	a.web = web.NewWebClient(a.Services, web.WithStream(stream), web.WithMetrics(m.Handler()), web.WithLogger(logger))
	if cfg.MCP.Enabled {
		a.mcp = mcp.NewMCPServer(cfg.DecideVersion, a.Services, logger)
	}
	return a, nil
}

// Handler is the HTTP surface of the runtime.
func (a *App) Handler() http.Handler {
	return a.web.Routes()
}

// Run drives the runtime until ctx is done or a link fails. A failed link is
// returned as an errs.ErrFatalLink error.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.Scry.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		// a reader that stops on its own means the telemetry link is gone
		if ferr := a.Monitor.Drain(); ferr != nil {
			return ferr
		}
		return errs.Fatal(errs.ErrFatalLink, "telemetry", "receive", "%v", err)
	})

	a.Monitor.Start()
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return a.Monitor.Stop()
		case <-a.Monitor.Dead():
			return a.Monitor.Err()
		}
	})

	if a.httpAddr != "" {
		l, err := net.Listen("tcp", a.httpAddr)
		if err != nil {
			a.Monitor.Stop()
			return err
		}
		srv := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
		a.logger.Info("HTTP surface listening", "addr", l.Addr().String())
		g.Go(func() error {
			if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.mcp != nil {
		// stdio has no cancellation; the process exits around it.
		go func() {
			if err := a.mcp.Run(); err != nil {
				a.logger.Error("MCP server failed", "error", err)
			}
		}()
	}

	err := g.Wait()
	a.logger.Info("Shutting down channels")
	if cerr := a.channels.Close(); cerr != nil {
		a.logger.Warn("Closing channels", "error", cerr)
	}
	return err
}
