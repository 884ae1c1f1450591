package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Submitter queues a message for the ingestion pipeline.
type Submitter interface {
	Submit(ctx context.Context, topic string, payload []byte) error
}

// Options configures the broker connection.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Filter         string
	QoS            byte
	ConnectTimeout time.Duration
}

// Subscriber feeds broker messages into the ingestion pool.
type Subscriber struct {
	opts   Options
	submit Submitter
	logger *zap.Logger
	client paho.Client

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewSubscriber constructs a subscriber. It does not connect.
func NewSubscriber(opts Options, submit Submitter, logger *zap.Logger) (*Subscriber, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt subscriber: empty broker")
	}
	if opts.Filter == "" {
		return nil, errors.New("mqtt subscriber: empty topic filter")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("mqtt subscriber: invalid qos %d", opts.QoS)
	}
	if submit == nil {
		return nil, errors.New("mqtt subscriber: nil submitter")
	}
	if opts.ClientID == "" {
		opts.ClientID = "factory-telemetry"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{opts: opts, submit: submit, logger: logger, ctx: ctx, cancel: cancel}, nil
}

// Start connects and subscribes. Subscriptions are renewed on every reconnect.
func (s *Subscriber) Start() error {
	clientOpts := paho.NewClientOptions()
	clientOpts.AddBroker(s.opts.Broker)
	clientOpts.SetClientID(s.opts.ClientID)
	if s.opts.Username != "" {
		clientOpts.SetUsername(s.opts.Username)
	}
	if s.opts.Password != "" {
		clientOpts.SetPassword(s.opts.Password)
	}
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)
	clientOpts.SetOrderMatters(true)
	clientOpts.SetConnectTimeout(s.opts.ConnectTimeout)
	clientOpts.SetOnConnectHandler(func(client paho.Client) {
		if err := s.subscribe(client); err != nil {
			s.logger.Error("mqtt subscribe failed", zap.String("filter", s.opts.Filter), zap.Error(err))
			return
		}
		s.logger.Info("mqtt subscribed", zap.String("filter", s.opts.Filter), zap.Uint8("qos", s.opts.QoS))
	})
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	s.client = paho.NewClient(clientOpts)
	token := s.client.Connect()
	if !token.WaitTimeout(s.opts.ConnectTimeout) {
		return fmt.Errorf("mqtt subscriber: connect to %s timed out", s.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscriber: connect to %s: %w", s.opts.Broker, err)
	}
	return nil
}

// Stop unsubscribes and disconnects. Messages blocked on a full pool are released.
func (s *Subscriber) Stop() {
	s.once.Do(func() {
		s.cancel()
		if s.client == nil || !s.client.IsConnected() {
			return
		}
		token := s.client.Unsubscribe(s.opts.Filter)
		token.WaitTimeout(time.Second)
		s.client.Disconnect(250)
	})
}

// IsConnected reports whether the broker connection is up.
func (s *Subscriber) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

func (s *Subscriber) subscribe(client paho.Client) error {
	token := client.Subscribe(s.opts.Filter, s.opts.QoS, s.onMessage)
	if !token.WaitTimeout(s.opts.ConnectTimeout) {
		return errors.New("subscribe timed out")
	}
	return token.Error()
}

// onMessage blocks while the pool is full, which holds back the broker client.
func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	if err := s.submit.Submit(s.ctx, msg.Topic(), payload); err != nil {
		s.logger.Warn("mqtt message not queued",
			zap.String("topic", msg.Topic()),
			zap.Error(err),
		)
	}
}
