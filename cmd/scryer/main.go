// Command scryer connects to a decide server and serves its components over
// HTTP and, optionally, MCP on stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/mbocsi/scryer/app"
	"github.com/mbocsi/scryer/config"
	"github.com/mbocsi/scryer/errs"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		discover   bool
		httpAddr   string
		enableMCP  bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file (env: SCRYER_CONFIG)")
	flag.BoolVar(&discover, "discover", false, "Find the decide server over mDNS")
	flag.StringVar(&httpAddr, "http", "", "Address of the HTTP surface, overrides http.addr")
	flag.BoolVar(&enableMCP, "mcp", false, "Serve MCP tools on stdio")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [components]\n\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "The components command prints the component registry as YAML and exits.")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 2
	}
	if discover {
		cfg.Discover = true
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if enableMCP {
		cfg.MCP.Enabled = true
	}

	if flag.Arg(0) == "components" {
		return dumpComponents(cfg)
	}

	logger, closer := config.SetupLogger(cfg.Log)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Resolve(cfg, logger); err != nil {
		logger.Error("Discovery failed", "error", err)
		return 1
	}
	ch, err := app.Dial(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to connect", "transport", cfg.Transport, "error", err)
		return 1
	}
	a, err := app.New(cfg, ch, logger)
	if err != nil {
		ch.Close()
		logger.Error("Failed to start", "error", err)
		return 1
	}

	logger.Info("scryer running", "transport", cfg.Transport,
		"command", cfg.Command.Endpoint, "telemetry", cfg.Telemetry.Endpoint)
	if err := a.Run(ctx); err != nil {
		logger.Error("scryer stopped", "error", err, "fatal", errs.IsFatal(err))
		return 1
	}
	logger.Info("scryer stopped")
	return 0
}

func dumpComponents(cfg *config.Config) int {
	reg, err := cfg.Registry()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	if err := enc.Encode(reg.Descriptors()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
