package services

import (
	"sort"

	"github.com/mbocsi/scryer/linkmon"
)

// LinkStatus is satisfied by *linkmon.Monitor
type LinkStatus interface {
	Status() map[string]linkmon.State
}

// LinkServiceImpl implements LinkService
type LinkServiceImpl struct {
	monitor LinkStatus
}

// NewLinkService creates a new link service
func NewLinkService(monitor LinkStatus) LinkService {
	return &LinkServiceImpl{
		monitor: monitor,
	}
}

// ListLinks returns every monitored channel in name order
func (ls *LinkServiceImpl) ListLinks() ([]LinkInfo, error) {
	if ls.monitor == nil {
		return []LinkInfo{}, nil
	}
	status := ls.monitor.Status()
	result := make([]LinkInfo, 0, len(status))
	for channel, st := range status {
		result = append(result, LinkInfo{Channel: channel, Status: st.String()})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Channel < result[j].Channel })
	return result, nil
}
