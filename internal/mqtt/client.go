package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"blueconnect-gateway/internal/config"
	"blueconnect-gateway/internal/state"
)

// Client publishes per-device pool state to the broker.
type Client struct {
	client    mqtt.Client
	cfg       config.Config
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// StateMessage is the JSON document published on pools/<address>/state.
type StateMessage struct {
	Address      string                `json:"address"`
	HardwareID   string                `json:"hardware_id"`
	Timestamp    time.Time             `json:"timestamp"`
	LastSeen     time.Time             `json:"last_seen"`
	RSSI         int16                 `json:"rssi"`
	DecodeErrors uint64                `json:"decode_errors"`
	Changed      []string              `json:"changed"`
	Fields       map[string]FieldState `json:"fields"`
}

type FieldState struct {
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeviceHealth is the retained liveness document on pools/<address>/health.
type DeviceHealth struct {
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

func NewClient(cfg config.Config) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		slog.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		slog.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect establishes the broker connection. Waits for the initial attempt
// and respects ctx and Disconnect().
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

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
		case <-c.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

// PublishState publishes one snapshot update on the device's state topic.
func (c *Client) PublishState(u state.Update) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	topic := fmt.Sprintf("pools/%s/state", u.Address)

	msg := StateMessage{
		Address:      u.Snapshot.Address,
		HardwareID:   u.Snapshot.HardwareID,
		Timestamp:    time.Now(),
		LastSeen:     u.Snapshot.LastSeen,
		RSSI:         u.Snapshot.RSSI,
		DecodeErrors: u.Snapshot.DecodeErrors,
		Fields:       make(map[string]FieldState, len(u.Snapshot.Fields)),
	}
	for _, name := range u.Changed {
		msg.Changed = append(msg.Changed, string(name))
	}
	for name, fv := range u.Snapshot.Fields {
		msg.Fields[string(name)] = FieldState{Value: fv.Value, Unit: fv.Unit, UpdatedAt: fv.UpdatedAt}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	token := c.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("publish state: %w", token.Error())
	}

	slog.Debug("published state", "topic", topic, "changed", msg.Changed)
	return nil
}

// PublishHealth publishes the retained liveness document for a device.
func (c *Client) PublishHealth(health DeviceHealth) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	topic := fmt.Sprintf("pools/%s/health", health.Address)

	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("marshal health: %w", err)
	}

	token := c.client.Publish(topic, 1, true, data) // retained
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("publish health: %w", token.Error())
	}

	slog.Debug("published health", "topic", topic, "last_seen", health.LastSeen, "healthy", health.Healthy)
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the connection. Idempotent; after
// Disconnect, Connect() returns "client stopped".
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	slog.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
