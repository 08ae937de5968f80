package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mbocsi/scryer/client"
	"github.com/mbocsi/scryer/config"
	"github.com/mbocsi/scryer/transport"
	"github.com/mbocsi/scryer/transport/natsbus"
	"github.com/mbocsi/scryer/transport/ws"
	"github.com/mbocsi/scryer/transport/zmq"
)

// Channels are the two connections to a decide server. Closer releases
// anything they share beyond the channels themselves.
type Channels struct {
	Command   transport.Requester
	Telemetry transport.Subscriber
	Closer    io.Closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

const discoverTimeout = 3 * time.Second

// Resolve replaces the endpoints with those of an mDNS announcement when
// discovery is on.
func Resolve(cfg *config.Config, logger *slog.Logger) error {
	if !cfg.Discover {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	svc, err := client.Discover(client.ServiceType, discoverTimeout)
	if err != nil {
		return err
	}
	cfg.Transport = svc.Transport
	cfg.Command.Endpoint, cfg.Telemetry.Endpoint = svc.Command, svc.Telemetry
	if svc.Transport == "ws" {
		if cfg.Command.Endpoint == "" {
			cfg.Command.Endpoint = svc.Addr()
		}
		if cfg.Telemetry.Endpoint == "" {
			cfg.Telemetry.Endpoint = svc.Addr()
		}
	}
	if cfg.Command.Endpoint == "" || cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("%s at %s does not name its endpoints", svc.ServiceName, svc.Addr())
	}
	if svc.Version != "" && svc.Version != cfg.DecideVersion {
		logger.Warn("Discovered server speaks another version", "server", svc.Version, "configured", cfg.DecideVersion)
	}
	logger.Info("Using discovered endpoints", "transport", cfg.Transport,
		"command", cfg.Command.Endpoint, "telemetry", cfg.Telemetry.Endpoint)
	return nil
}

// Dial opens the command and telemetry channels on the configured transport.
func Dial(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Channels, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Transport {
	case "zmq":
		cmd, err := zmq.DialRequester(ctx, cfg.Command.Endpoint, zmq.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("dial command: %w", err)
		}
		sub, err := zmq.DialSubscriber(ctx, cfg.Telemetry.Endpoint, zmq.WithLogger(logger))
		if err != nil {
			cmd.Close()
			return nil, fmt.Errorf("dial telemetry: %w", err)
		}
		return &Channels{Command: cmd, Telemetry: sub, Closer: nopCloser{}}, nil

	case "ws":
		cmd, err := ws.DialRequester(ctx, cfg.Command.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("dial command: %w", err)
		}
		sub, err := ws.DialSubscriber(ctx, cfg.Telemetry.Endpoint)
		if err != nil {
			cmd.Close()
			return nil, fmt.Errorf("dial telemetry: %w", err)
		}
		return &Channels{Command: cmd, Telemetry: sub, Closer: nopCloser{}}, nil

	case "nats":
		conn, err := natsbus.Connect(ctx, natsbus.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			Prefix:        cfg.NATS.Prefix,
			Token:         cfg.NATS.Token,
			User:          cfg.NATS.User,
			Password:      cfg.NATS.Password,
			MaxReconnects: cfg.NATS.MaxReconnects,
		})
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return &Channels{Command: conn.Requester(), Telemetry: conn.Subscriber(), Closer: conn}, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func (c *Channels) Close() error {
	c.Telemetry.Close()
	c.Command.Close()
	return c.Closer.Close()
}
