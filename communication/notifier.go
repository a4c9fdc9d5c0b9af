package communication

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var ErrNoSender = errors.New("no sender for channel")

// Message is a rendered template addressed to one recipient.
type Message struct {
	Channel     Channel
	To          string
	RecipientID string
	Subject     string
	Body        string
	GroupID     string
	Trigger     string
}

// Sender delivers messages on one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogSender writes messages to a logger instead of delivering them.
type LogSender struct {
	Logger log.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	return level.Info(s.Logger).Log(
		"msg", "communication sent",
		"channel", msg.Channel,
		"to", msg.To,
		"recipient", msg.RecipientID,
		"group", msg.GroupID,
		"trigger", msg.Trigger,
		"subject", msg.Subject,
	)
}

var _ Notifier = (*TemplateNotifier)(nil)

// TemplateNotifier renders templates with text/template and hands them to the channel senders.
type TemplateNotifier struct {
	senders map[Channel]Sender
	logger  log.Logger
}

type NotifierOption func(*TemplateNotifier)

func WithSender(channel Channel, sender Sender) NotifierOption {
	return func(n *TemplateNotifier) {
		n.senders[channel] = sender
	}
}

func WithNotifierLogger(logger log.Logger) NotifierOption {
	return func(n *TemplateNotifier) {
		n.logger = logger
	}
}

func NewTemplateNotifier(opts ...NotifierOption) *TemplateNotifier {
	n := &TemplateNotifier{
		senders: map[Channel]Sender{},
		logger:  log.NewJSONLogger(log.NewSyncWriter(os.Stdout)),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *TemplateNotifier) Notify(ctx context.Context, group TemplateGroup, recipients []Communicable, channel *Channel, params map[string]any) error {
	trigger, _ := params[TriggerParam].(string)

	var errs []error
	for _, tpl := range group.Templates {
		if !tpl.Active {
			continue
		}
		if channel != nil && tpl.Channel != *channel {
			continue
		}

		sender, ok := n.senders[tpl.Channel]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoSender, tpl.Channel))
			continue
		}

		subject, err := render(tpl.ID+"-subject", tpl.Subject, params)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		body, err := render(tpl.ID+"-body", tpl.Body, params)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for _, r := range recipients {
			to, ok := r.ContactFor(tpl.Channel)
			if !ok {
				level.Debug(n.logger).Log("msg", "recipient has no contact on channel", "recipient", r.CommunicableID(), "channel", tpl.Channel)
				continue
			}

			msg := Message{
				Channel:     tpl.Channel,
				To:          to,
				RecipientID: r.CommunicableID(),
				Subject:     subject,
				Body:        body,
				GroupID:     group.ID,
				Trigger:     trigger,
			}
			if err := sender.Send(ctx, msg); err != nil {
				errs = append(errs, fmt.Errorf("send %s to %s: %w", tpl.Channel, r.CommunicableID(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func render(name, src string, params map[string]any) (string, error) {
	if src == "" {
		return "", nil
	}
	tpl, err := template.New(name).Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, params); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return sb.String(), nil
}
