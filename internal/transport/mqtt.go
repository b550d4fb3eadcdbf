package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var errClientStopped = errors.New("mqtt client stopped")

type MQTTConfig struct {
	Broker      string
	Port        int
	ClientID    string
	TopicPrefix string
	// PublishTimeout bounds the wait for the broker's acknowledgement.
	PublishTimeout time.Duration
}

// MQTTPublisher sends each batch as a JSON array of readings to
// <prefix>/<dataset>/<table> with QoS 1.
type MQTTPublisher struct {
	client    mqtt.Client
	cfg       MQTTConfig
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewMQTTPublisher(cfg MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	p := &MQTTPublisher{
		cfg:    cfg,
		logger: logger.With("component", "mqtt"),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Topic returns the topic a batch for dataset/table is published to.
func (p *MQTTPublisher) Topic(dataset, table string) string {
	return Topic(p.cfg.TopicPrefix, dataset, table)
}

// Topic joins the non-empty parts with '/'.
func Topic(prefix, dataset, table string) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{prefix, dataset, table} {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Connect waits for the initial connection, respecting ctx and Close.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return errClientStopped
	default:
	}

	if p.IsConnected() {
		return nil
	}

	// With ConnectRetry the token may not complete until the broker is up.
	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return errClientStopped
		default:
		}
	}
}

func (p *MQTTPublisher) Publish(ctx context.Context, b Batch) error {
	if !p.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	topic := p.Topic(b.Dataset, b.Table)
	data, err := json.Marshal(b.Records)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	timeout := p.cfg.PublishTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}

	token := p.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}

	p.logger.Debug("published batch", "topic", topic, "batch_id", b.ID, "records", len(b.Records))
	return nil
}

func (p *MQTTPublisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Close stops the client. Idempotent; Connect fails afterwards.
func (p *MQTTPublisher) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })

	if p.client != nil {
		p.client.Disconnect(250)
	}

	p.setConnected(false)
	p.logger.Info("mqtt disconnected")
	return nil
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
