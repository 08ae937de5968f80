package client

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceFromEntry(t *testing.T) {
	svc, err := serviceFromEntry(&mdns.ServiceEntry{
		Name:       "rig-3._decide._tcp.local.",
		AddrV4:     net.ParseIP("192.168.1.40"),
		Port:       8080,
		InfoFields: []string{"transport=ws", "version=0.1.0", "junk"},
	})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.40:8080", svc.Addr())
	assert.Equal(t, "ws", svc.Transport)
	assert.Equal(t, "0.1.0", svc.Version)
	assert.Empty(t, svc.Command)

	svc, err = serviceFromEntry(&mdns.ServiceEntry{
		AddrV4:     net.ParseIP("10.0.0.2"),
		Port:       7897,
		InfoFields: []string{"transport=zmq", "command=tcp://10.0.0.2:7897", "telemetry=tcp://10.0.0.2:7898"},
	})
	require.NoError(t, err)
	assert.Equal(t, "zmq", svc.Transport)
	assert.Equal(t, "tcp://10.0.0.2:7898", svc.Telemetry)

	svc, err = serviceFromEntry(&mdns.ServiceEntry{AddrV6: net.ParseIP("fe80::1"), Port: 1})
	require.NoError(t, err)
	assert.Equal(t, "[fe80::1]:1", svc.Addr())

	_, err = serviceFromEntry(&mdns.ServiceEntry{Port: 1})
	assert.Error(t, err)
}
