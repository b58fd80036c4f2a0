package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for a bridge that owns its own reconnect
// policy.
//
// Unlike a long-lived auto-reconnecting session, every call to Connect
// builds a fresh paho client with the caller's client identifier. Paho's
// own reconnect logic is disabled; losing the session is reported through
// IsConnected and the owner decides when to dial again.
//
// Received messages are never handed to the application from paho's
// goroutines. They are queued in a bounded inbox and delivered by Loop,
// which the owner calls from its single control flow.
//
// Thread Safety:
//   - Connect, Disconnect, Publish, Subscribe and Loop are intended to be
//     called from one goroutine.
//   - Dropped and SubscriptionCount are safe from any goroutine.
type Client struct {
	cfg         config.MQTTConfig
	statusTopic string

	// factory builds the underlying paho client; replaced in tests.
	factory func(*pahomqtt.ClientOptions) pahomqtt.Client

	client   pahomqtt.Client
	clientID string

	// connected tracks current connection state.
	connected atomic.Bool

	// subscriptions tracks what the current session is subscribed to.
	// It is reset on every Connect because each session starts clean.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	inbox     chan Message
	onMessage MessageHandler
	dropped   atomic.Uint64

	// Callbacks for connection events (optional).
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Message is a received publish waiting in the inbox.
type Message struct {
	Topic   string
	Payload []byte
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked synchronously from Loop, never from paho's
// goroutines, so they must not block for extended periods.
type MessageHandler func(topic string, payload []byte)

// New creates a disconnected client. Call Connect to open a session.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Client: Client ready to connect
func New(cfg config.MQTTConfig) *Client {
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}

	return &Client{
		cfg:           cfg,
		factory:       pahomqtt.NewClient,
		subscriptions: make(map[string]byte),
		inbox:         make(chan Message, inboxSize),
	}
}

// SetStatusTopic enables the retained online/offline status topic.
// The topic is also registered as the Last Will on the next Connect.
func (c *Client) SetStatusTopic(topic string) {
	c.statusTopic = topic
}

// Connect opens a new session with the broker using clientID.
//
// Any previous session is closed first. The attempt is bounded by the
// configured connect timeout and by ctx.
//
// Returns:
//   - error: wraps ErrConnectionFailed on refusal, timeout or cancellation
func (c *Client) Connect(ctx context.Context, clientID string) error {
	if clientID == "" {
		return fmt.Errorf("%w: client id cannot be empty", ErrConnectionFailed)
	}

	c.Disconnect()

	opts := buildClientOptions(c.cfg, clientID)
	if c.statusTopic != "" {
		configureLWT(opts, c.statusTopic, clientID)
	}

	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.enqueue(msg.Topic(), msg.Payload())
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.subMu.Lock()
	c.subscriptions = make(map[string]byte)
	c.subMu.Unlock()

	client := c.factory(opts)
	token := client.Connect()

	timeout := c.connectTimeout()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-token.Done():
	case <-waitCtx.Done():
		client.Disconnect(0)
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		}
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}

	if err := token.Error(); err != nil {
		if ct, ok := token.(*pahomqtt.ConnectToken); ok {
			return fmt.Errorf("%w: rc=%d: %w", ErrConnectionFailed, ct.ReturnCode(), err)
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.client = client
	c.clientID = clientID
	c.connected.Store(true)

	if c.statusTopic != "" {
		// Best effort; the session is usable without it.
		c.client.Publish(c.statusTopic, 0, true, buildOnlinePayload(clientID))
	}

	return nil
}

// handleDisconnect is called by paho when the session is lost.
func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Disconnect closes the current session, if any. Safe to call repeatedly.
func (c *Client) Disconnect() {
	if c.client == nil {
		return
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.client = nil
	c.connected.Store(false)
}

// Close gracefully shuts down the session.
//
// It publishes the graceful offline status (if a status topic is set)
// before disconnecting.
//
// Returns:
//   - error: always nil; a closed client is not an error
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() && c.statusTopic != "" {
		token := c.client.Publish(c.statusTopic, 0, true, buildOfflinePayload(c.clientID))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.Disconnect()
	return nil
}

// HealthCheck reports whether the session is usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	if !c.connected.Load() {
		return false
	}
	client := c.client
	return client != nil && client.IsConnected()
}

// ClientID returns the identifier of the current (or last) session.
func (c *Client) ClientID() string {
	return c.clientID
}

// SetOnMessage sets the handler that Loop delivers received messages to.
func (c *Client) SetOnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// SetOnDisconnect sets a callback to be invoked when the session is lost.
// The callback runs on a paho goroutine and must only touch thread-safe state.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for inbox overflow reporting.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Dropped returns the number of received messages discarded because the
// inbox was full.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}
