package proto

import (
	"strings"

	"github.com/mbocsi/scryer/errs"
)

// StatePrefix is the topic prefix of every state publication.
const StatePrefix = "state/"

// StateTopic returns "state/<name>".
func StateTopic(name string) string {
	return StatePrefix + name
}

// ParseTopic extracts the component name from "state/<name>".
func ParseTopic(topic string) (string, error) {
	name, ok := strings.CutPrefix(topic, StatePrefix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", errs.Invalid(errs.ErrBadTopic, "", "parse topic", "%q", topic)
	}
	return name, nil
}
