// Package mqtt forwards detector events to an MQTT broker for home
// automation. Events go to <topic>/status and <topic>/match at QoS 1.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/GriffinCanCode/omnicall/internal/config"
	"github.com/GriffinCanCode/omnicall/internal/events"
	"github.com/GriffinCanCode/omnicall/internal/trace"
)

const (
	QoS            = 1
	ConnectTimeout = 5 * time.Second
	PublishTimeout = 2 * time.Second
	DisconnectWait = 250 // ms
)

// client is the subset of paho.Client the publisher needs.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Stats counts publish attempts.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// Publisher encodes events and publishes them.
type Publisher struct {
	cfg    config.MQTTConfig
	client client
	encode func(any) ([]byte, error)

	mu        sync.Mutex
	published uint64
	errors    uint64
}

// New builds a publisher with a paho client; call Connect before Run.
func New(cfg config.MQTTConfig) (*Publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		trace.Logger(context.Background()).Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}
	return newPublisher(cfg, paho.NewClient(opts))
}

func newPublisher(cfg config.MQTTConfig, c client) (*Publisher, error) {
	p := &Publisher{cfg: cfg, client: c}
	switch cfg.Encoding {
	case "", "json":
		p.encode = json.Marshal
	case "msgpack":
		p.encode = msgpack.Marshal
	default:
		return nil, fmt.Errorf("unsupported mqtt encoding %q", cfg.Encoding)
	}
	return p, nil
}

// Connect dials the broker.
func (p *Publisher) Connect(ctx context.Context) error {
	log := trace.Logger(ctx)
	log.Info("connecting to mqtt broker", "broker", p.cfg.Broker)

	token := p.client.Connect()
	if !token.WaitTimeout(ConnectTimeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	log.Info("mqtt connection established", "broker", p.cfg.Broker, "client_id", p.cfg.ClientID)
	return nil
}

// Publish sends one event and waits for the broker's acknowledgement.
func (p *Publisher) Publish(ev events.Event) error {
	payload, err := p.encode(ev)
	if err != nil {
		p.fail()
		return fmt.Errorf("encode event: %w", err)
	}

	topic := p.Topic(ev.Kind)
	token := p.client.Publish(topic, QoS, false, payload)
	if !token.WaitTimeout(PublishTimeout) {
		p.fail()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.fail()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

// Run publishes events from src until it closes or ctx ends. Failures are
// logged and the event is skipped.
func (p *Publisher) Run(ctx context.Context, src <-chan events.Event) {
	log := trace.Logger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			if err := p.Publish(ev); err != nil {
				log.Warn("mqtt publish failed", "kind", ev.Kind, "error", err)
			}
		}
	}
}

// Topic returns the topic for events of kind k.
func (p *Publisher) Topic(k events.Kind) string {
	return strings.TrimSuffix(p.cfg.Topic, "/") + "/" + string(k)
}

// Stats returns publish counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Connected: p.client.IsConnected(), Published: p.published, Errors: p.errors}
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(DisconnectWait)
	}
	return nil
}

func (p *Publisher) fail() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
