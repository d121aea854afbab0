package room

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidChannel rejects channel names that are not "session:<id>" or
// "project:<id>".
var ErrInvalidChannel = errors.New("invalid channel")

type ChannelType string

const (
	ChannelSession ChannelType = "session"
	ChannelProject ChannelType = "project"
)

// Channel is a parsed, validated channel name.
type Channel struct {
	Type ChannelType
	ID   string
}

// Room returns the room name the channel maps to.
func (c Channel) Room() string {
	return string(c.Type) + ":" + c.ID
}

// ParseChannel validates a client-supplied channel name.
func ParseChannel(name string) (Channel, error) {
	typ, id, ok := strings.Cut(name, ":")
	if !ok || id == "" {
		return Channel{}, fmt.Errorf("%w: %q", ErrInvalidChannel, name)
	}
	switch ChannelType(typ) {
	case ChannelSession, ChannelProject:
		return Channel{Type: ChannelType(typ), ID: id}, nil
	default:
		return Channel{}, fmt.Errorf("%w: %q", ErrInvalidChannel, name)
	}
}

// SessionRoom names the room for one session's watchers.
func SessionRoom(sessionID string) string {
	return Channel{Type: ChannelSession, ID: sessionID}.Room()
}

// ProjectRoom names the room for a whole project's watchers.
func ProjectRoom(projectID string) string {
	return Channel{Type: ChannelProject, ID: projectID}.Room()
}
