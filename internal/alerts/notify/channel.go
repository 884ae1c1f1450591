package notify

import (
	"context"

	alerts "factory-telemetry/internal/alerts/domain"
)

// Channel names accepted by the dispatcher.
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
	ChannelStream  = "stream"
)

// Message is one rendered alert on its way to a channel.
type Message struct {
	Alert   alerts.Alert
	Content string
}

// Channel delivers rendered content.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f ChannelFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
