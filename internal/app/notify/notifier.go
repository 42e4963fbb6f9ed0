// Package notify is the fire-and-forget notification collaborator.
// Delivery failures are logged and never fail the originating workflow
// operation.
package notify

import (
	"context"

	"github.com/kaykluz/kiisha-dev-sub002/pkg/logger"
)

// Message carries the template context for a notification.
type Message struct {
	Subject string
	Body    string
	Context map[string]string
}

// Notifier delivers a message to a set of recipients (user ids, org ids or
// email addresses; routing is the collaborator's concern).
type Notifier interface {
	Notify(ctx context.Context, recipients []string, msg Message) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, recipients []string, msg Message) error

func (f NotifierFunc) Notify(ctx context.Context, recipients []string, msg Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, recipients, msg)
}

// LogNotifier writes notifications to the log. Default for local
// development and tests.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier returns a notifier backed by the logger.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, recipients []string, msg Message) error {
	n.log.WithField("recipients", recipients).Infof("notification: %s", msg.Subject)
	return nil
}
