package uart

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"
)

type linkFixture struct {
	link      *LinkManager
	station   *MockStation
	transport *MockTransport
	clock     *fakeClock
}

func newLinkFixture(t *testing.T, cfg LinkConfig) *linkFixture {
	t.Helper()
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "esp_uart_mqtt"
	}
	if cfg.Subscriptions == nil {
		cfg.Subscriptions = []string{"rf/config"}
	}

	f := &linkFixture{
		station:   &MockStation{},
		transport: NewMockTransport(),
		clock:     &fakeClock{},
	}
	link, err := NewLinkManager(LinkOptions{
		Config:    cfg,
		Station:   f.station,
		Transport: f.transport,
		Clock:     f.clock,
	})
	if err != nil {
		t.Fatalf("NewLinkManager() error = %v", err)
	}
	f.link = link
	return f
}

// assertWiFiBeforeMQTT checks MQTT is never connected without WiFi.
func assertWiFiBeforeMQTT(t *testing.T, link *LinkManager) {
	t.Helper()
	s := link.State()
	if s.MQTT == Connected && s.WiFi != Connected {
		t.Fatalf("state %+v has MQTT connected without WiFi", s)
	}
}

func TestNewLinkManagerValidation(t *testing.T) {
	tests := []struct {
		name string
		opts LinkOptions
	}{
		{name: "no station", opts: LinkOptions{Transport: NewMockTransport(), Config: LinkConfig{ClientIDPrefix: "x"}}},
		{name: "no transport", opts: LinkOptions{Station: &MockStation{}, Config: LinkConfig{ClientIDPrefix: "x"}}},
		{name: "no prefix", opts: LinkOptions{Station: &MockStation{}, Transport: NewMockTransport()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLinkManager(tt.opts); err == nil {
				t.Error("NewLinkManager() expected error")
			}
		})
	}
}

func TestLinkInitialState(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{})

	if f.link.Current() != StateWiFiDown {
		t.Errorf("Current() = %s, want %s", f.link.Current(), StateWiFiDown)
	}
	if s := f.link.State(); s.WiFi != Disconnected || s.MQTT != Disconnected {
		t.Errorf("State() = %+v, want all disconnected", s)
	}
	if f.link.Ready() {
		t.Error("Ready() = true before any poll")
	}
}

func TestLinkBeginsAssociationOnce(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{})
	ctx := context.Background()

	f.link.Poll(ctx)
	if f.station.Begins() != 1 {
		t.Fatalf("Begin calls = %d, want 1", f.station.Begins())
	}
	if f.link.Current() != StateWiFiAssociating {
		t.Errorf("Current() = %s, want %s", f.link.Current(), StateWiFiAssociating)
	}
	if s := f.link.State(); s.WiFi != Connecting {
		t.Errorf("WiFi = %s, want connecting", s.WiFi)
	}

	for range 50 {
		f.clock.Advance(200 * time.Millisecond)
		f.link.Poll(ctx)
	}
	if f.station.Begins() != 1 {
		t.Errorf("Begin calls = %d after waiting, want 1", f.station.Begins())
	}
}

func TestLinkAssociateRetry(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{AssociateRetry: 30 * time.Second})
	ctx := context.Background()

	f.link.Poll(ctx)
	f.clock.Advance(29 * time.Second)
	f.link.Poll(ctx)
	if f.station.Begins() != 1 {
		t.Fatalf("Begin calls = %d before retry, want 1", f.station.Begins())
	}

	f.clock.Advance(time.Second)
	f.link.Poll(ctx)
	if f.station.Begins() != 2 {
		t.Errorf("Begin calls = %d after retry, want 2", f.station.Begins())
	}
}

func TestLinkBeginErrorStillAssociating(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{})
	f.station.beginErr = errors.New("wifi: associate command failed")
	logger := &capturingLogger{}
	f.link.SetLogger(logger)

	f.link.Poll(context.Background())

	if f.link.Current() != StateWiFiAssociating {
		t.Errorf("Current() = %s, want %s", f.link.Current(), StateWiFiAssociating)
	}
	if logger.count("error") != 1 {
		t.Errorf("error entries = %d, want 1", logger.count("error"))
	}
}

func TestLinkConnectsInOnePoll(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{})
	f.link.randN = func(int) int { return 0xbeef }
	f.station.SetConnected(true)

	f.link.Poll(context.Background())

	if !f.link.Ready() {
		t.Fatalf("Current() = %s, want ready", f.link.Current())
	}
	if s := f.link.State(); s.WiFi != Connected || s.MQTT != Connected {
		t.Errorf("State() = %+v, want all connected", s)
	}
	if ids := f.transport.GetClientIDs(); len(ids) != 1 || ids[0] != "esp_uart_mqttbeef" {
		t.Errorf("client ids = %v, want [esp_uart_mqttbeef]", ids)
	}
	if f.link.ClientID() != "esp_uart_mqttbeef" {
		t.Errorf("ClientID() = %q", f.link.ClientID())
	}
	if subs := f.transport.GetSubscriptions(); len(subs) != 1 || subs[0] != "rf/config" {
		t.Errorf("subscriptions = %v, want [rf/config]", subs)
	}
	if stats := f.link.Stats(); stats.Attempts != 1 || stats.Connects != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestLinkClientIDFormat(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{})

	var bound int
	f.link.randN = func(n int) int {
		bound = n
		return 0x1a
	}

	if got := f.link.newClientID(); got != "esp_uart_mqtt1a" {
		t.Errorf("newClientID() = %q, want esp_uart_mqtt1a", got)
	}
	if bound != 0xffff {
		t.Errorf("random bound = %#x, want 0xffff", bound)
	}

	// Default source stays in range and lowercase
	f.link.randN = rand.IntN
	for range 100 {
		id := f.link.newClientID()
		suffix := strings.TrimPrefix(id, "esp_uart_mqtt")
		if suffix == "" || len(suffix) > 4 || strings.ToLower(suffix) != suffix {
			t.Fatalf("client id %q has bad suffix", id)
		}
	}
}

func TestLinkRetryDelay(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{RetryDelay: 5 * time.Second})
	f.transport.connectErrs = []error{errors.New("connection refused"), nil}
	f.station.SetConnected(true)
	ctx := context.Background()

	f.link.Poll(ctx)
	if f.link.Current() != StateMQTTDown {
		t.Fatalf("Current() = %s after failure, want %s", f.link.Current(), StateMQTTDown)
	}
	if s := f.link.State(); s.WiFi != Connected || s.MQTT != Disconnected {
		t.Errorf("State() = %+v", s)
	}

	// No attempt inside the retry window
	for range 24 {
		f.clock.Advance(200 * time.Millisecond)
		f.link.Poll(ctx)
	}
	if n := len(f.transport.GetClientIDs()); n != 1 {
		t.Fatalf("attempts = %d inside retry window, want 1", n)
	}

	f.clock.Advance(200 * time.Millisecond)
	f.link.Poll(ctx)
	if !f.link.Ready() {
		t.Errorf("Current() = %s after retry, want ready", f.link.Current())
	}
	if stats := f.link.Stats(); stats.Attempts != 2 || stats.Connects != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestLinkSubscribeFailureIsFailedAttempt(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{})
	f.transport.subscribeErr = errors.New("not authorised")
	f.station.SetConnected(true)

	f.link.Poll(context.Background())

	if f.link.Current() != StateMQTTDown {
		t.Errorf("Current() = %s, want %s", f.link.Current(), StateMQTTDown)
	}
	if f.transport.IsConnected() {
		t.Error("session left open after failed subscribe")
	}
	if f.link.Stats().Connects != 0 {
		t.Errorf("Connects = %d, want 0", f.link.Stats().Connects)
	}
}

func TestLinkSessionLostReconnectsImmediately(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{Subscriptions: []string{"rf/config", "rf/mode"}})
	seq := 0
	f.link.randN = func(int) int { seq++; return seq }
	f.station.SetConnected(true)
	ctx := context.Background()

	f.link.Poll(ctx)
	firstSubs := f.transport.GetSubscriptions()

	f.transport.DropSession()
	f.clock.Advance(200 * time.Millisecond)
	f.link.Poll(ctx)

	if !f.link.Ready() {
		t.Fatalf("Current() = %s, want ready after immediate retry", f.link.Current())
	}
	ids := f.transport.GetClientIDs()
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Errorf("client ids = %v, want two distinct", ids)
	}

	secondSubs := f.transport.GetSubscriptions()
	if strings.Join(secondSubs, ",") != strings.Join(firstSubs, ",") {
		t.Errorf("subscriptions after reconnect = %v, want %v", secondSubs, firstSubs)
	}
	if f.link.Stats().SessionLosses != 1 {
		t.Errorf("SessionLosses = %d, want 1", f.link.Stats().SessionLosses)
	}
}

func TestLinkWiFiLossTearsDownSession(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{})
	f.station.SetConnected(true)
	ctx := context.Background()

	f.link.Poll(ctx)
	if !f.link.Ready() {
		t.Fatal("not ready")
	}

	f.station.SetConnected(false)
	f.link.Poll(ctx)

	if f.transport.IsConnected() {
		t.Error("MQTT session still open after WiFi loss")
	}
	if f.link.Current() != StateWiFiAssociating {
		t.Errorf("Current() = %s, want %s", f.link.Current(), StateWiFiAssociating)
	}
	if f.station.Begins() != 1 {
		t.Errorf("Begin calls = %d, want 1", f.station.Begins())
	}
	if f.link.Stats().WiFiLosses != 1 {
		t.Errorf("WiFiLosses = %d, want 1", f.link.Stats().WiFiLosses)
	}
	assertWiFiBeforeMQTT(t, f.link)

	f.station.SetConnected(true)
	f.link.Poll(ctx)
	if !f.link.Ready() {
		t.Errorf("Current() = %s after WiFi returns, want ready", f.link.Current())
	}
}

func TestLinkFlappingKeepsWiFiBeforeMQTT(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{RetryDelay: time.Second})
	ctx := context.Background()

	pattern := []struct {
		wifi    bool
		drop    bool
		failing bool
	}{
		{wifi: false}, {wifi: true}, {wifi: true, drop: true}, {wifi: false},
		{wifi: true, failing: true}, {wifi: true}, {wifi: true}, {wifi: false},
		{wifi: true}, {wifi: true, drop: true}, {wifi: true},
	}

	for i := range 200 {
		step := pattern[i%len(pattern)]
		f.station.SetConnected(step.wifi)
		if step.drop {
			f.transport.DropSession()
		}
		if step.failing {
			f.transport.connectErrs = []error{errors.New("refused")}
		}
		f.clock.Advance(300 * time.Millisecond)
		f.link.Poll(ctx)
		assertWiFiBeforeMQTT(t, f.link)
	}
}

func TestEnsureConnectedIdempotent(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{})
	f.station.SetConnected(true)
	ctx := context.Background()

	if err := f.link.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected() error = %v", err)
	}
	ids := f.transport.GetClientIDs()
	subs := f.transport.GetSubscriptions()

	for range 3 {
		if err := f.link.EnsureConnected(ctx); err != nil {
			t.Fatalf("EnsureConnected() error = %v", err)
		}
	}

	if got := f.transport.GetClientIDs(); len(got) != len(ids) {
		t.Errorf("client ids = %v, want no new attempts", got)
	}
	if got := f.transport.GetSubscriptions(); len(got) != len(subs) {
		t.Errorf("subscriptions = %v, want no re-subscription", got)
	}
}

func TestEnsureConnectedCancelled(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{EnsureInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := f.link.EnsureConnected(ctx)
	if !errors.Is(err, ErrLinkNotReady) {
		t.Errorf("EnsureConnected() error = %v, want ErrLinkNotReady", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("EnsureConnected() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestEnsureConnectedWaitsForStation(t *testing.T) {
	f := newLinkFixture(t, LinkConfig{EnsureInterval: time.Millisecond})

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.station.SetConnected(true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := f.link.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected() error = %v", err)
	}
	if !f.link.Ready() {
		t.Error("Ready() = false after EnsureConnected")
	}
}

func TestLinkStatusString(t *testing.T) {
	tests := map[LinkStatus]string{
		Disconnected:  "disconnected",
		Connecting:    "connecting",
		Connected:     "connected",
		LinkStatus(9): "LinkStatus(9)",
	}
	for status, want := range tests {
		if got := status.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
