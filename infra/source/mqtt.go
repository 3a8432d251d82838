package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/cardgrid/cardgrid/core/query"
	"github.com/cardgrid/cardgrid/infra/logger"
)

// MQTTConfig defines the connection parameters for the broker backing
// mqtt-variant card streams.
type MQTTConfig struct {
	Broker           string `json:"broker"`
	ClientID         string `json:"client_id"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	QoS              byte   `json:"qos"`
	ConnectTimeoutMS int    `json:"connect_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *MQTTConfig) SetDefaults() {
	if c.ConnectTimeoutMS <= 0 {
		c.ConnectTimeoutMS = 5000
	}
}

// Validate checks mandatory fields.
func (c MQTTConfig) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	return nil
}

// pahoClient is the subset of the Paho client used here, extracted so tests
// can inject a fake.
type pahoClient interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// MQTTOpener opens card streams as broker subscriptions. The query URL is
// the topic; each message carries one JSON record.
type MQTTOpener struct {
	cfg MQTTConfig
	log logger.Logger
}

// NewMQTTOpener creates an opener for the configured broker.
func NewMQTTOpener(cfg MQTTConfig, log logger.Logger) *MQTTOpener {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &MQTTOpener{cfg: cfg, log: log}
}

// Open connects and subscribes to the request topic.
func (o *MQTTOpener) Open(ctx context.Context, req query.Request) (query.Stream, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	topic := req.Query.URL
	clientID := o.cfg.ClientID
	if clientID == "" {
		clientID = "cardgrid-" + uuid.NewString()
	}
	opts := paho.NewClientOptions().
		AddBroker(o.cfg.Broker).
		SetClientID(clientID).
		SetConnectTimeout(time.Duration(o.cfg.ConnectTimeoutMS) * time.Millisecond)
	if o.cfg.Username != "" {
		opts.SetUsername(o.cfg.Username)
		opts.SetPassword(o.cfg.Password)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		o.log.Warnf("mqtt connection lost: %v", err)
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	st := &mqttStream{cli: cli, topic: topic, msgs: make(chan []byte, 64)}
	if token := cli.Subscribe(topic, o.cfg.QoS, st.onMessage); token.Wait() && token.Error() != nil {
		cli.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe %s: %w", topic, token.Error())
	}
	return st, nil
}

type mqttStream struct {
	cli   pahoClient
	topic string
	msgs  chan []byte
}

func (s *mqttStream) onMessage(_ paho.Client, msg paho.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())
	select {
	case s.msgs <- payload:
	default:
		// Drop rather than block the paho callback; the buffer bounds
		// memory and the renderer only needs recent records.
	}
}

// Recv returns the next decoded record from the subscription.
func (s *mqttStream) Recv(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload := <-s.msgs:
		var rec any
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", query.ErrMalformedFrame, err)
		}
		return unwrapEnvelope(payload, rec), nil
	}
}

func (s *mqttStream) Close() error {
	if token := s.cli.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
		s.cli.Disconnect(250)
		return token.Error()
	}
	s.cli.Disconnect(250)
	return nil
}
