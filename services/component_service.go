package services

import (
	"github.com/mbocsi/scryer/scry"
)

// ComponentServiceImpl implements ComponentService
type ComponentServiceImpl struct {
	registry Registry
	latest   *scry.Latest
}

// NewComponentService creates a new component service. latest may be nil.
func NewComponentService(registry Registry, latest *scry.Latest) ComponentService {
	return &ComponentServiceImpl{
		registry: registry,
		latest:   latest,
	}
}

// ListComponents returns every component in id order
func (cs *ComponentServiceImpl) ListComponents() ([]ComponentInfo, error) {
	descriptors := cs.registry.Descriptors()
	result := make([]ComponentInfo, 0, len(descriptors))

	for _, d := range descriptors {
		info := convertDescriptor(d)
		cs.attachLatest(&info)
		result = append(result, info)
	}

	return result, nil
}

// GetComponent returns one component by id or alias
func (cs *ComponentServiceImpl) GetComponent(name string) (*ComponentInfo, error) {
	d, err := cs.registry.Describe(name)
	if err != nil {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Component not found: " + name,
			Cause:   err,
		}
	}

	info := convertDescriptor(d)
	cs.attachLatest(&info)
	return &info, nil
}

func (cs *ComponentServiceImpl) attachLatest(info *ComponentInfo) {
	if cs.latest == nil {
		return
	}
	if ev, ok := cs.latest.Get(info.ID); ok {
		info.Latest = convertEvent(ev)
	}
}
