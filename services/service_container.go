package services

import (
	"github.com/mbocsi/scryer/apparatus"
	"github.com/mbocsi/scryer/client"
	"github.com/mbocsi/scryer/scry"
)

// ServiceManagerImpl wires the services over one decide connection
type ServiceManagerImpl struct {
	client  *client.Client
	scry    *scry.Correlator
	latest  *scry.Latest
	monitor LinkStatus

	services *ServiceContainer
}

// NewServiceManager creates a new service manager. latest, monitor and app
// may be nil; a nil app gets an apparatus with default timings.
func NewServiceManager(c *client.Client, sc *scry.Correlator, latest *scry.Latest, monitor LinkStatus, app *apparatus.Apparatus) *ServiceManagerImpl {
	if app == nil {
		app = apparatus.New(apparatus.Config{}, c, sc)
	}
	sm := &ServiceManagerImpl{
		client:  c,
		scry:    sc,
		latest:  latest,
		monitor: monitor,
	}

	registry := c.Registry()
	sm.services = &ServiceContainer{
		Component: NewComponentService(registry, latest),
		Command:   NewCommandService(c, registry),
		Event:     NewEventService(sc, registry, latest),
		Link:      NewLinkService(monitor),
		Apparatus: NewApparatusService(app),
	}

	return sm
}

// GetServices returns the service container
func (sm *ServiceManagerImpl) GetServices() *ServiceContainer {
	return sm.services
}
