package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/cenkalti/backoff/v4"

	alerts "factory-telemetry/internal/alerts/domain"
)

// ErrNoSubscribers is returned when an alert reaches the stream with nobody listening.
var ErrNoSubscribers = errors.New("alert stream: no subscribers")

const subscriberBuffer = 16

type streamEvent struct {
	Alert   alerts.Alert `json:"alert"`
	Content string       `json:"content"`
}

// Broker fans out alerts to connected stream clients.
type Broker struct {
	mu      sync.Mutex
	clients map[chan []byte]string
	closed  bool
}

// NewBroker constructs a broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[chan []byte]string)}
}

// Send implements Channel. Slow clients miss events instead of blocking delivery.
func (b *Broker) Send(_ context.Context, msg Message) error {
	if b == nil {
		return errors.New("alert stream: nil broker")
	}
	payload, err := json.Marshal(streamEvent{Alert: msg.Alert, Content: msg.Content})
	if err != nil {
		return backoff.Permanent(err)
	}
	if b.broadcast(msg.Alert.TenantSlug, payload) == 0 {
		return backoff.Permanent(ErrNoSubscribers)
	}
	return nil
}

// Subscribe registers a client for the alerts of tenant; an empty tenant receives
// every alert. It returns nil once the broker is closed.
func (b *Broker) Subscribe(tenant string) chan []byte {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	ch := make(chan []byte, subscriberBuffer)
	b.clients[ch] = tenant
	return ch
}

// Unsubscribe removes a client channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; !ok {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

// Subscribers returns the number of connected clients.
func (b *Broker) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broker) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
}

func (b *Broker) broadcast(tenant string, payload []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := 0
	for ch, filter := range b.clients {
		if filter != "" && filter != tenant {
			continue
		}
		select {
		case ch <- payload:
			delivered++
		default:
		}
	}
	return delivered
}
