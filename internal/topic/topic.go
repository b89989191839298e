package topic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/config"
)

// Channel is a symbolic short code for a well-known message category.
type Channel string

// Channel codes. The set is closed.
const (
	None         Channel = ""
	Climate      Channel = "C"
	Gases        Channel = "G"
	Particulates Channel = "P"
	Status       Channel = "S"
	Control      Channel = "X"
)

// Resolution errors. All of them are fatal configuration errors.
var (
	ErrUnknownChannel     = errors.New("topic: unknown channel code")
	ErrNoTarget           = errors.New("topic: neither channel nor topic given")
	ErrAmbiguousTarget    = errors.New("topic: both channel and topic given")
	ErrMissingProjectPath = errors.New("topic: project path not configured")
)

// channelSpec describes where a channel's topic lives.
type channelSpec struct {
	suffix string
	// device-scoped channels hang off project.device_path/<tag>,
	// the rest off project.location_path.
	device bool
}

var channels = map[Channel]channelSpec{
	Climate:      {suffix: "climate"},
	Gases:        {suffix: "gases"},
	Particulates: {suffix: "particulates"},
	Status:       {suffix: "status", device: true},
	Control:      {suffix: "control", device: true},
}

// Channels returns the supported channel codes in display order.
func Channels() []Channel {
	return []Channel{Climate, Gases, Particulates, Status, Control}
}

// ParseChannel validates a channel code. Codes are case-insensitive.
func ParseChannel(code string) (Channel, error) {
	c := Channel(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := channels[c]; !ok {
		return None, fmt.Errorf("%w: %q", ErrUnknownChannel, code)
	}
	return c, nil
}

// Resolve maps a channel code or an explicit topic to a topic string.
//
// Exactly one of channel and explicit must be set. A channel topic is
// the project location path (climate, gases, particulates) or the
// project device path plus the device tag (status, control), followed by
// the channel suffix. The project document may override suffixes per
// channel code.
//
// Resolve is pure and is called once per topic at startup.
//
// Parameters:
//   - channel: Channel code, or None
//   - explicit: Explicit topic, or ""
//   - identity: Device identity document
//   - project: Project document
//
// Returns:
//   - string: Fully qualified topic
//   - error: ErrNoTarget, ErrAmbiguousTarget, ErrUnknownChannel or ErrMissingProjectPath
func Resolve(channel Channel, explicit string, identity *config.Identity, project *config.Project) (string, error) {
	switch {
	case channel == None && explicit == "":
		return "", ErrNoTarget
	case channel != None && explicit != "":
		return "", ErrAmbiguousTarget
	case channel == None:
		return explicit, nil
	}

	spec, ok := channels[channel]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, string(channel))
	}

	suffix := spec.suffix
	if project != nil {
		if override := project.Channels[string(channel)]; override != "" {
			suffix = override
		}
	}

	if spec.device {
		if project == nil || project.DevicePath == "" {
			return "", fmt.Errorf("%w: device_path for channel %s", ErrMissingProjectPath, channel)
		}
		tag := ""
		if identity != nil {
			tag = identity.Tag
		}
		return join(project.DevicePath, tag, suffix), nil
	}

	if project == nil || project.LocationPath == "" {
		return "", fmt.Errorf("%w: location_path for channel %s", ErrMissingProjectPath, channel)
	}
	return join(project.LocationPath, suffix), nil
}

// join concatenates topic levels, dropping empty ones and stray slashes.
func join(levels ...string) string {
	parts := make([]string, 0, len(levels))
	for _, l := range levels {
		l = strings.Trim(l, "/")
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "/")
}
