package communication

import (
	"maps"
)

// TriggerParam is the parameter holding the name of the event that triggered a communication.
const TriggerParam = "trigger"

// Event is a domain occurrence that may notify people.
type Event interface {
	// Name identifies the event type. Template groups are matched on it.
	Name() string
	Params() map[string]any
	Communicables() []Communicable
}

// Communicable is a recipient of communications.
type Communicable interface {
	CommunicableID() string
	// ContactFor returns the address of the recipient on channel, ex: an email for ChannelMail.
	ContactFor(channel Channel) (string, bool)
}

// Contact is a plain Communicable.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func (c Contact) CommunicableID() string {
	return c.ID
}

func (c Contact) ContactFor(channel Channel) (string, bool) {
	switch channel {
	case ChannelMail:
		return c.Email, c.Email != ""
	case ChannelSMS:
		return c.Phone, c.Phone != ""
	case ChannelDatabase:
		return c.ID, c.ID != ""
	}
	return "", false
}

// NamedEvent is an Event built from plain values, ex: an event received over the API.
type NamedEvent struct {
	Trigger    string         `json:"trigger"`
	Parameters map[string]any `json:"params,omitempty"`
	Recipients []Contact      `json:"recipients,omitempty"`
}

func (e NamedEvent) Name() string {
	return e.Trigger
}

func (e NamedEvent) Params() map[string]any {
	return e.Parameters
}

func (e NamedEvent) Communicables() []Communicable {
	res := make([]Communicable, 0, len(e.Recipients))
	for _, r := range e.Recipients {
		res = append(res, r)
	}
	return res
}

// MergeParams returns a copy of the event parameters with TriggerParam set to the event name.
func MergeParams(ev Event) map[string]any {
	params := make(map[string]any, len(ev.Params())+1)
	maps.Copy(params, ev.Params())
	params[TriggerParam] = ev.Name()
	return params
}
