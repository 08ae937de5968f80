package client

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service a decide endpoint is advertised under.
const ServiceType = "_decide._tcp"

// DiscoveredService is a decide endpoint found over mDNS. Command and
// Telemetry are set when the advertiser names its endpoints explicitly.
type DiscoveredService struct {
	ServiceName string
	Address     string
	Port        int
	Transport   string
	Version     string
	Command     string
	Telemetry   string
	TXTRecords  []string
}

// Addr is host:port of the service.
func (s *DiscoveredService) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// Discover returns the first decide service advertised under serviceType.
func Discover(serviceType string, timeout time.Duration) (*DiscoveredService, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)

	params := mdns.DefaultParams(serviceType)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true
	go func() {
		defer close(entriesCh)
		if err := mdns.Query(params); err != nil {
			slog.Warn("mDNS query failed", "service", serviceType, "error", err)
		}
	}()

	select {
	case entry := <-entriesCh:
		if entry == nil {
			return nil, fmt.Errorf("no %s service found", serviceType)
		}
		return serviceFromEntry(entry)
	case <-time.After(timeout):
		return nil, fmt.Errorf("mDNS discovery timeout for %s", serviceType)
	}
}

func serviceFromEntry(entry *mdns.ServiceEntry) (*DiscoveredService, error) {
	var address string
	if entry.AddrV4 != nil {
		address = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		address = fmt.Sprintf("[%s]", entry.AddrV6.String())
	} else {
		return nil, fmt.Errorf("no valid address found for service")
	}

	service := &DiscoveredService{
		ServiceName: entry.Name,
		Address:     address,
		Port:        entry.Port,
		Transport:   "ws",
		TXTRecords:  entry.InfoFields,
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "transport":
			service.Transport = value
		case "version":
			service.Version = value
		case "command":
			service.Command = value
		case "telemetry":
			service.Telemetry = value
		}
	}

	slog.Info("Discovered decide server",
		"service_name", service.ServiceName,
		"address", service.Address,
		"port", service.Port,
		"transport", service.Transport,
	)
	return service, nil
}
