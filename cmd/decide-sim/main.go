// Command decide-sim runs a simulated decide server over WebSocket, for
// developing against scryer without an operant box.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/config"
	"github.com/mbocsi/scryer/proto"
	"github.com/mbocsi/scryer/server"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7899", "Listen address")
	version := flag.String("version", "0.1.0", "decide protocol version to accept")
	feed := flag.Duration("feed", 4*time.Second, "Feeder run time when its timeout param is zero")
	play := flag.Duration("play", 2*time.Second, "Length of every simulated stimulus")
	advertise := flag.Bool("mdns", false, "Announce the server over mDNS")
	level := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	logger, closer := config.SetupLogger(config.LogConfig{Level: *level, Format: "text"})
	defer closer.Close()

	codec := proto.NewCodec(component.MustRegistry(), *version, proto.WithLogger(logger))
	sim := server.New(server.Config{FeedDuration: *feed, PlayDuration: *play}, codec)

	l, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Error("Failed to listen", "addr", *addr, "error", err)
		os.Exit(1)
	}
	sim.Start(l)

	if *advertise {
		port := l.Addr().(*net.TCPAddr).Port
		srv, err := server.Advertise(port, *version)
		if err != nil {
			logger.Warn("mDNS announcement failed", "error", err)
		} else {
			defer srv.Shutdown()
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("Signal received", "signal", s.String())
	case <-sim.Done():
		logger.Info("Shutdown requested by client")
	}
	if err := sim.Stop(); err != nil {
		logger.Error("Stop failed", "error", err)
	}
}
