// Package mqttlink talks to the vehicle through an MQTT radio bridge. The
// bridge republishes the vehicle parameter registry, the estimator log and
// the raw on-board console under a common topic prefix, and forwards
// commands published by the ground station.
package mqttlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/roman-kulish/rem-builder/internal/mission"
	"github.com/roman-kulish/rem-builder/internal/telemetry"
)

const (
	DefaultTopicPrefix    = "rem"
	DefaultClientID       = "rem-builder"
	DefaultConnectTimeout = 10 * time.Second

	disconnectQuiesce = 250 // ms
	varianceBuffer    = 16
)

// ErrNotConnected is returned by commands issued while the link is closed
var ErrNotConnected = errors.New("link is not connected")

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) func(*Client) {
	return func(c *Client) {
		c.logger = logger.With(slog.String("component", "mqttlink"))
	}
}

// WithClientID sets the MQTT client identifier
func WithClientID(id string) func(*Client) {
	return func(c *Client) {
		c.clientID = id
	}
}

// WithTopicPrefix sets the prefix every bridge topic lives under
func WithTopicPrefix(prefix string) func(*Client) {
	return func(c *Client) {
		c.topics = newTopics(prefix)
	}
}

// WithConnectTimeout bounds the broker connection handshake
func WithConnectTimeout(d time.Duration) func(*Client) {
	return func(c *Client) {
		c.connectTimeout = d
	}
}

// WithCredentials sets the broker username and password
func WithCredentials(username, password string) func(*Client) {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithConsole sets the sink the raw on-board console bytes are copied into
func WithConsole(w io.Writer) func(*Client) {
	return func(c *Client) {
		c.console = w
	}
}

type setpoint struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
	Yaw float64 `json:"yaw"`
}

type logConfig struct {
	PeriodMs int64 `json:"periodMs"`
}

// Client is the vehicle link over MQTT. It implements the mission
// collaborators and the estimator variance source.
type Client struct {
	broker         string
	clientID       string
	username       string
	password       string
	connectTimeout time.Duration
	topics         topics
	console        io.Writer
	logger         *slog.Logger

	mu        sync.Mutex
	client    mqtt.Client
	lifecycle mission.LifecycleHandler
	subs      map[string]map[int]mission.UpdateFunc
	nextSubID int
	streams   map[int]chan telemetry.Variance
	nextID    int
}

var (
	_ mission.ParamRegistry    = (*Client)(nil)
	_ mission.FlightController = (*Client)(nil)
	_ mission.Link             = (*Client)(nil)
	_ mission.PowerSwitch      = (*Client)(nil)
	_ telemetry.VarianceSource = (*Client)(nil)
)

// New creates a new Client for the bridge reachable at broker, e.g. tcp://localhost:1883
func New(broker string, options ...func(*Client)) *Client {
	c := Client{
		broker:         broker,
		clientID:       DefaultClientID,
		connectTimeout: DefaultConnectTimeout,
		topics:         newTopics(DefaultTopicPrefix),
		console:        io.Discard,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		lifecycle:      noopLifecycle{},
		subs:           make(map[string]map[int]mission.UpdateFunc),
		streams:        make(map[int]chan telemetry.Variance),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// SetLifecycleHandler sets the receiver of link state changes. It must be
// called before Open.
func (c *Client) SetLifecycleHandler(h mission.LifecycleHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lifecycle = h
}

func (c *Client) handler() mission.LifecycleHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle
}

func (c *Client) clientOptions(clientID string) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(c.broker).
		SetClientID(clientID).
		SetUsername(c.username).
		SetPassword(c.password).
		SetConnectTimeout(c.connectTimeout).
		SetAutoReconnect(false).
		SetCleanSession(true)
}

// sessionOptions configures the long-lived link. The session outlives the
// link being closed for a scan, so the broker queues the QoS 1 updates
// published in the meantime and delivers them on the next Open.
func (c *Client) sessionOptions() *mqtt.ClientOptions {
	return c.clientOptions(c.clientID).
		SetCleanSession(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)
}

// Open connects to the bridge. Subscriptions are restored, the subscribed
// parameter groups are re-read and the lifecycle handler is notified once
// the connection is up.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.client == nil {
		c.client = mqtt.NewClient(c.sessionOptions())
	}
	client := c.client
	c.mu.Unlock()

	if client.IsConnected() {
		return nil
	}

	c.logger.Info("connecting", slog.String("broker", c.broker))

	if err := wait(ctx, client.Connect()); err != nil {
		c.handler().OnConnectionFailed(err)
		return fmt.Errorf("connecting to %s: %w", c.broker, err)
	}
	return nil
}

// Close disconnects from the bridge. Closing a closed link is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return nil
	}

	client.Disconnect(disconnectQuiesce)
	c.handler().OnDisconnected()
	return nil
}

func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info("connected", slog.String("broker", c.broker))

	subscriptions := map[string]mqtt.MessageHandler{
		c.topics.paramUpdates(): c.handleParamMessage,
		c.topics.console():      c.handleConsoleMessage,
		c.topics.kalmanLog():    c.handleVarianceMessage,
	}

	for topic, h := range subscriptions {
		if err := wait(context.Background(), client.Subscribe(topic, 1, h)); err != nil {
			c.logger.Error("failed to subscribe", slog.String("topic", topic), slog.Any("error", err))
			c.handler().OnConnectionFailed(err)
			return
		}
	}

	// values that changed while the link was closed are re-read, the
	// session queue alone is lost if the broker restarted meanwhile
	for _, group := range c.subscribedGroups() {
		topic := c.topics.paramRefresh(group)
		if err := wait(context.Background(), client.Publish(topic, 1, false, []byte{})); err != nil {
			c.logger.Warn("failed to request parameter refresh", slog.String("group", group), slog.Any("error", err))
		}
	}

	c.handler().OnConnected()
}

// subscribedGroups returns the parameter groups with at least one subscriber
func (c *Client) subscribedGroups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	groups := make([]string, 0, len(c.subs))
	for group, fns := range c.subs {
		if len(fns) > 0 {
			groups = append(groups, group)
		}
	}
	slices.Sort(groups)
	return groups
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("connection lost", slog.Any("error", err))
	c.handler().OnConnectionLost(err)
}

// Subscribe registers fn for updates of every parameter in group
func (c *Client) Subscribe(group string, fn mission.UpdateFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++

	if c.subs[group] == nil {
		c.subs[group] = make(map[int]mission.UpdateFunc)
	}
	c.subs[group][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[group], id)
	}
}

// SetValue publishes a parameter change request
func (c *Client) SetValue(ctx context.Context, name, value string) error {
	if err := c.publish(ctx, c.topics.paramSet(name), 1, []byte(value)); err != nil {
		return fmt.Errorf("setting %s: %w", name, err)
	}
	return nil
}

func (c *Client) SendPositionSetpoint(ctx context.Context, x, y, z, yaw float64) error {
	p, err := json.Marshal(setpoint{X: x, Y: y, Z: z, Yaw: yaw})
	if err != nil {
		return fmt.Errorf("marshaling setpoint: %w", err)
	}
	return c.publish(ctx, c.topics.setpoint(), 0, p)
}

func (c *Client) SendStopSetpoint(ctx context.Context) error {
	return c.publish(ctx, c.topics.stop(), 1, []byte("{}"))
}

// StreamVariance asks the bridge to log the estimator position variance
// every period and streams the records until ctx is cancelled. Records are
// dropped when the consumer falls behind.
func (c *Client) StreamVariance(ctx context.Context, period time.Duration) (<-chan telemetry.Variance, error) {
	p, err := json.Marshal(logConfig{PeriodMs: period.Milliseconds()})
	if err != nil {
		return nil, fmt.Errorf("marshaling log config: %w", err)
	}

	ch := make(chan telemetry.Variance, varianceBuffer)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.streams[id] = ch
	c.mu.Unlock()

	if err = c.publish(ctx, c.topics.kalmanLogConfig(), 1, p); err != nil {
		c.closeStream(id)
		return nil, fmt.Errorf("starting variance log: %w", err)
	}

	go func() {
		<-ctx.Done()
		c.closeStream(id)
	}()

	return ch, nil
}

func (c *Client) closeStream(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.streams[id]; ok {
		delete(c.streams, id)
		close(ch)
	}
}

// PowerDown asks the bridge to power the vehicle platform down. It uses a
// short-lived connection of its own, so it works after the link was closed.
func (c *Client) PowerDown(ctx context.Context) error {
	client := mqtt.NewClient(c.clientOptions(c.clientID + "-power"))
	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("connecting to %s: %w", c.broker, err)
	}
	defer client.Disconnect(disconnectQuiesce)

	if err := wait(ctx, client.Publish(c.topics.powerDown(), 1, false, []byte("{}"))); err != nil {
		return fmt.Errorf("publishing power down: %w", err)
	}
	return nil
}

func (c *Client) publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	c.logger.Debug("publish", slog.String("topic", topic), slog.Int("size", len(payload)))
	return wait(ctx, client.Publish(topic, qos, false, payload))
}

func (c *Client) handleParamMessage(_ mqtt.Client, msg mqtt.Message) {
	group, name, ok := c.topics.parseParamUpdate(msg.Topic())
	if !ok {
		return
	}

	c.mu.Lock()
	fns := make([]mission.UpdateFunc, 0, len(c.subs[group]))
	for _, fn := range c.subs[group] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	value := strings.TrimSpace(string(msg.Payload()))
	c.logger.Debug("parameter update", slog.String("name", name), slog.String("value", value))

	for _, fn := range fns {
		fn(name, value)
	}
}

func (c *Client) handleConsoleMessage(_ mqtt.Client, msg mqtt.Message) {
	if _, err := c.console.Write(msg.Payload()); err != nil {
		c.logger.Warn("failed to forward console output", slog.Any("error", err))
	}
}

func (c *Client) handleVarianceMessage(_ mqtt.Client, msg mqtt.Message) {
	var v telemetry.Variance
	if err := json.Unmarshal(msg.Payload(), &v); err != nil {
		c.logger.Warn("variance unmarshal error", slog.Any("error", err))
		return
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.streams {
		select {
		case ch <- v:
		default:
			c.logger.Debug("variance stream is behind, dropping record")
		}
	}
}

// wait blocks until the token completes or ctx is done
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type noopLifecycle struct{}

func (noopLifecycle) OnConnected()             {}
func (noopLifecycle) OnDisconnected()          {}
func (noopLifecycle) OnConnectionFailed(error) {}
func (noopLifecycle) OnConnectionLost(error)   {}
