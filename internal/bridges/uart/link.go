package uart

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
)

// Link states.
const (
	StateWiFiDown        = "wifi_down"
	StateWiFiAssociating = "wifi_associating"
	StateMQTTDown        = "mqtt_down"
	StateMQTTConnecting  = "mqtt_connecting"
	StateReady           = "ready"
)

// Link events.
const (
	eventAssociate   = "associate"
	eventAssociated  = "associated"
	eventWiFiLost    = "wifi_lost"
	eventDial        = "dial"
	eventConnected   = "connected"
	eventDialFailed  = "dial_failed"
	eventSessionLost = "session_lost"
)

const (
	defaultRetryDelay     = 5 * time.Second
	defaultEnsureInterval = 200 * time.Millisecond

	// clientIDSuffixRange bounds the random hex suffix of client identifiers.
	clientIDSuffixRange = 0xffff
)

// LinkStatus is the state of one layer of the link.
type LinkStatus int

const (
	Disconnected LinkStatus = iota
	Connecting
	Connected
)

// String returns the lowercase name of the status.
func (s LinkStatus) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("LinkStatus(%d)", int(s))
	}
}

// ConnectionState is the externally visible link state.
// MQTT is never Connected unless WiFi is.
type ConnectionState struct {
	WiFi LinkStatus
	MQTT LinkStatus
}

// LinkStats counts link recoveries since start.
type LinkStats struct {
	Attempts      uint64
	Connects      uint64
	WiFiLosses    uint64
	SessionLosses uint64
}

// Station is the network link the broker is reached over.
type Station interface {
	// Begin starts association and returns without waiting for it.
	Begin(ctx context.Context) error

	// Connected reports whether the link is usable.
	Connected() bool

	// LocalIP returns the link address, or nil while disconnected.
	LocalIP() net.IP
}

// Transport is the MQTT session the link manager opens and the bridge
// publishes on. *mqtt.Client satisfies it.
type Transport interface {
	Connect(ctx context.Context, clientID string) error
	Disconnect()
	IsConnected() bool
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte) error
	Loop() int
}

// LinkConfig holds the link manager settings.
type LinkConfig struct {
	// ClientIDPrefix is the fixed part of every client identifier.
	ClientIDPrefix string

	// RetryDelay is the pause after a failed connection attempt. Default: 5s.
	RetryDelay time.Duration

	// AssociateRetry re-begins association if the station stays
	// disconnected this long. Zero disables it.
	AssociateRetry time.Duration

	// Subscriptions are issued after every successful connect.
	Subscriptions []string

	// EnsureInterval is the pause between polls in EnsureConnected.
	// Default: 200ms.
	EnsureInterval time.Duration
}

// LinkOptions holds the collaborators of a LinkManager.
type LinkOptions struct {
	Config    LinkConfig
	Station   Station
	Transport Transport
	Clock     Clock
	Logger    Logger
}

// LinkManager brings the WiFi station and MQTT session up and keeps them
// there.
//
// It is a non-blocking state machine: Poll performs at most one step of
// each layer and returns. Connection attempts are bounded by the
// transport's connect timeout.
//
//	wifi_down -> wifi_associating -> mqtt_down <-> mqtt_connecting -> ready
//
// Losing the station from any MQTT state returns to wifi_down. Losing the
// session from ready returns to mqtt_down and retries at once.
//
// Thread Safety: Poll and EnsureConnected must be called from one
// goroutine. State, Current and Stats are safe from any goroutine.
type LinkManager struct {
	cfg       LinkConfig
	station   Station
	transport Transport
	clock     Clock

	machine *fsm.FSM

	// randN returns a value in [0, n); replaced in tests.
	randN func(n int) int

	nextAttempt time.Duration
	beganAt     time.Duration

	clientID   string
	clientIDMu sync.RWMutex

	attempts      atomic.Uint64
	connects      atomic.Uint64
	wifiLosses    atomic.Uint64
	sessionLosses atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewLinkManager creates a link manager in the wifi_down state.
func NewLinkManager(opts LinkOptions) (*LinkManager, error) {
	if opts.Station == nil {
		return nil, fmt.Errorf("station is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Config.ClientIDPrefix == "" {
		return nil, fmt.Errorf("client id prefix is required")
	}

	cfg := opts.Config
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.EnsureInterval <= 0 {
		cfg.EnsureInterval = defaultEnsureInterval
	}
	cfg.Subscriptions = append([]string(nil), cfg.Subscriptions...)

	clock := opts.Clock
	if clock == nil {
		clock = NewClock()
	}

	l := &LinkManager{
		cfg:       cfg,
		station:   opts.Station,
		transport: opts.Transport,
		clock:     clock,
		randN:     rand.IntN,
		logger:    opts.Logger,
	}

	l.machine = fsm.NewFSM(
		StateWiFiDown,
		fsm.Events{
			{Name: eventAssociate, Src: []string{StateWiFiDown}, Dst: StateWiFiAssociating},
			{Name: eventAssociated, Src: []string{StateWiFiDown, StateWiFiAssociating}, Dst: StateMQTTDown},
			{Name: eventWiFiLost, Src: []string{StateMQTTDown, StateMQTTConnecting, StateReady}, Dst: StateWiFiDown},
			{Name: eventDial, Src: []string{StateMQTTDown}, Dst: StateMQTTConnecting},
			{Name: eventConnected, Src: []string{StateMQTTConnecting}, Dst: StateReady},
			{Name: eventDialFailed, Src: []string{StateMQTTConnecting}, Dst: StateMQTTDown},
			{Name: eventSessionLost, Src: []string{StateReady}, Dst: StateMQTTDown},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if logger := l.getLogger(); logger != nil {
					logger.Debug("link state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
				}
			},
		},
	)

	return l, nil
}

// SetLogger sets the logger for this link manager.
func (l *LinkManager) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

func (l *LinkManager) getLogger() Logger {
	l.loggerMu.RLock()
	defer l.loggerMu.RUnlock()
	return l.logger
}

// Poll advances the state machine by one non-blocking step.
// Called on every fast tick.
func (l *LinkManager) Poll(ctx context.Context) {
	if !l.station.Connected() {
		l.pollStationDown(ctx)
		return
	}

	switch l.machine.Current() {
	case StateWiFiDown, StateWiFiAssociating:
		l.onAssociated(ctx)
	case StateReady:
		if !l.transport.IsConnected() {
			l.onSessionLost(ctx)
		}
	}

	if l.machine.Current() == StateMQTTDown && l.clock.Uptime() >= l.nextAttempt {
		l.dial(ctx)
	}
}

// pollStationDown tears down MQTT and (re)starts association.
func (l *LinkManager) pollStationDown(ctx context.Context) {
	now := l.clock.Uptime()

	switch l.machine.Current() {
	case StateMQTTDown, StateMQTTConnecting, StateReady:
		l.transport.Disconnect()
		l.wifiLosses.Add(1)
		if logger := l.getLogger(); logger != nil {
			logger.Warn("WiFi link lost")
		}
		l.fire(ctx, eventWiFiLost)
	}

	switch l.machine.Current() {
	case StateWiFiDown:
		l.begin(ctx, now)
		l.fire(ctx, eventAssociate)
	case StateWiFiAssociating:
		if l.cfg.AssociateRetry > 0 && now-l.beganAt >= l.cfg.AssociateRetry {
			l.begin(ctx, now)
		}
	}
}

func (l *LinkManager) begin(ctx context.Context, now time.Duration) {
	l.beganAt = now
	logger := l.getLogger()
	if logger != nil {
		logger.Info("Connecting to WiFi")
	}
	if err := l.station.Begin(ctx); err != nil && logger != nil {
		logger.Error("WiFi association could not start", "error", err)
	}
}

func (l *LinkManager) onAssociated(ctx context.Context) {
	if logger := l.getLogger(); logger != nil {
		logger.Info("WiFi connected", "ip", l.station.LocalIP().String())
	}
	l.nextAttempt = l.clock.Uptime()
	l.fire(ctx, eventAssociated)
}

func (l *LinkManager) onSessionLost(ctx context.Context) {
	l.sessionLosses.Add(1)
	if logger := l.getLogger(); logger != nil {
		logger.Warn("MQTT session lost", "client_id", l.ClientID())
	}
	l.transport.Disconnect()
	l.nextAttempt = l.clock.Uptime()
	l.fire(ctx, eventSessionLost)
}

// dial makes one connection attempt with a fresh client identifier and
// subscribes the full set. Any failure schedules the next attempt.
func (l *LinkManager) dial(ctx context.Context) {
	l.fire(ctx, eventDial)

	clientID := l.newClientID()
	attempt := l.attempts.Add(1)
	logger := l.getLogger()
	if logger != nil {
		logger.Info("Attempting MQTT connection", "client_id", clientID, "attempt", attempt)
	}

	if err := l.transport.Connect(ctx, clientID); err != nil {
		l.dialFailed(ctx, err)
		return
	}

	for _, topic := range l.cfg.Subscriptions {
		if err := l.transport.Subscribe(topic, 0); err != nil {
			l.transport.Disconnect()
			l.dialFailed(ctx, fmt.Errorf("subscribing %s: %w", topic, err))
			return
		}
	}

	l.clientIDMu.Lock()
	l.clientID = clientID
	l.clientIDMu.Unlock()

	l.connects.Add(1)
	l.fire(ctx, eventConnected)
	if logger != nil {
		logger.Info("MQTT connected", "client_id", clientID, "subscriptions", len(l.cfg.Subscriptions))
	}
}

func (l *LinkManager) dialFailed(ctx context.Context, err error) {
	l.nextAttempt = l.clock.Uptime() + l.cfg.RetryDelay
	l.fire(ctx, eventDialFailed)
	if logger := l.getLogger(); logger != nil {
		logger.Warn("MQTT connection failed, will retry",
			"error", err,
			"retry_in", l.cfg.RetryDelay,
		)
	}
}

func (l *LinkManager) newClientID() string {
	return fmt.Sprintf("%s%x", l.cfg.ClientIDPrefix, l.randN(clientIDSuffixRange))
}

// fire applies a transition. Transitions are in-memory and must complete
// even while the caller's context is being cancelled.
func (l *LinkManager) fire(ctx context.Context, event string) {
	if err := l.machine.Event(context.WithoutCancel(ctx), event); err != nil {
		if logger := l.getLogger(); logger != nil {
			logger.Error("invalid link transition", "event", event, "state", l.machine.Current(), "error", err)
		}
	}
}

// EnsureConnected polls until the link is ready or ctx is done.
//
// If the link is already ready it returns at once without side effects:
// no new client identifier and no re-subscription.
//
// Returns:
//   - error: wraps ErrLinkNotReady and the context error if ctx ends first
func (l *LinkManager) EnsureConnected(ctx context.Context) error {
	if l.Ready() {
		return nil
	}

	ticker := time.NewTicker(l.cfg.EnsureInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrLinkNotReady, err)
		}

		l.Poll(ctx)
		if l.Ready() {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrLinkNotReady, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Ready reports whether the session is up and subscribed.
func (l *LinkManager) Ready() bool {
	return l.machine.Current() == StateReady
}

// Current returns the raw state machine state.
func (l *LinkManager) Current() string {
	return l.machine.Current()
}

// State returns the per-layer view of the link.
func (l *LinkManager) State() ConnectionState {
	switch l.machine.Current() {
	case StateWiFiAssociating:
		return ConnectionState{WiFi: Connecting, MQTT: Disconnected}
	case StateMQTTDown:
		return ConnectionState{WiFi: Connected, MQTT: Disconnected}
	case StateMQTTConnecting:
		return ConnectionState{WiFi: Connected, MQTT: Connecting}
	case StateReady:
		return ConnectionState{WiFi: Connected, MQTT: Connected}
	default:
		return ConnectionState{WiFi: Disconnected, MQTT: Disconnected}
	}
}

// ClientID returns the identifier of the current or most recent session.
func (l *LinkManager) ClientID() string {
	l.clientIDMu.RLock()
	defer l.clientIDMu.RUnlock()
	return l.clientID
}

// Stats returns a snapshot of the link counters.
func (l *LinkManager) Stats() LinkStats {
	return LinkStats{
		Attempts:      l.attempts.Load(),
		Connects:      l.connects.Load(),
		WiFiLosses:    l.wifiLosses.Load(),
		SessionLosses: l.sessionLosses.Load(),
	}
}
