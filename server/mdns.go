package server

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/mdns"

	"github.com/mbocsi/scryer/client"
)

// Advertise announces the simulator's WebSocket endpoint on the local
// network until the returned server is shut down.
func Advertise(port int, version string) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "decide-sim"
	}
	info := []string{"transport=ws", "version=" + version}
	service, err := mdns.NewMDNSService(host, client.ServiceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}
	slog.Info("Advertising simulator", "service", client.ServiceType, "host", host, "port", port)
	return srv, nil
}
