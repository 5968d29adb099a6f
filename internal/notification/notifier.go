package notification

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers one message to one customer.
type Notifier interface {
	Notify(ctx context.Context, to, subject, body string) error
}

// LogNotifier writes messages to the log instead of sending them. Used when
// no SMTP host is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, to, subject, body string) error {
	n.log.Info("notification",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
