package mailer

import (
	"context"
	"log/slog"
)

// Attachment is a file sent along with a message
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// Message is a single outbound HTML email
type Message struct {
	To          string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Notifier delivers messages
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of sending them.
// Used when no mail provider is configured.
type LogNotifier struct{}

// Send logs the message metadata
func (LogNotifier) Send(_ context.Context, msg Message) error {
	slog.Info("Email not sent, no mail provider configured",
		"to", msg.To,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)
	return nil
}
