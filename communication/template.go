package communication

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidChannel = errors.New("invalid channel")

type Channel string

const (
	ChannelMail     Channel = "mail"
	ChannelSMS      Channel = "sms"
	ChannelDatabase Channel = "database"
)

func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelMail, ChannelSMS, ChannelDatabase:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
}

// Template is the message sent on one channel.
// Subject and Body are text/template sources executed against the event parameters.
type Template struct {
	ID      string
	Channel Channel
	Subject string
	Body    string
	Active  bool
}

// TemplateGroup maps a trigger to the templates sent when it fires.
type TemplateGroup struct {
	ID      string
	Title   string
	Trigger string
	// Nil bounds are open.
	ValidFrom  *time.Time
	ValidUntil *time.Time
	Templates  []Template
}

// IsValid reports whether the group can be used at now.
func (g TemplateGroup) IsValid(now time.Time) bool {
	if g.ValidFrom != nil && now.Before(*g.ValidFrom) {
		return false
	}
	if g.ValidUntil != nil && !now.Before(*g.ValidUntil) {
		return false
	}
	for _, t := range g.Templates {
		if t.Active {
			return true
		}
	}
	return false
}

// TemplateGroupStore queries persisted template groups.
type TemplateGroupStore interface {
	// ForTrigger returns the groups matching trigger that are valid at now.
	ForTrigger(ctx context.Context, trigger string, now time.Time) ([]TemplateGroup, error)
}
