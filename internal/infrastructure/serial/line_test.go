package serial

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/config"
)

// fakePort replays scripted reads. An exhausted script behaves like a
// read timeout (0 bytes, nil error).
type fakePort struct {
	reads    [][]byte
	readErr  error
	written  bytes.Buffer
	writeErr error
	maxWrite int
	timeouts []time.Duration
	closed   bool

	// timeoutErr, if set, decides the result of each SetReadTimeout.
	timeoutErr func(time.Duration) error
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.reads) == 0 {
		return 0, p.readErr
	}
	next := p.reads[0]
	n := copy(b, next)
	if n < len(next) {
		p.reads[0] = next[n:]
	} else {
		p.reads = p.reads[1:]
	}
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.maxWrite > 0 && len(b) > p.maxWrite {
		b = b[:p.maxWrite]
	}
	return p.written.Write(b)
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeouts = append(p.timeouts, t)
	if p.timeoutErr != nil {
		return p.timeoutErr(t)
	}
	return nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func testSerialConfig() config.SerialConfig {
	return config.SerialConfig{
		Port:          "/dev/null",
		Baud:          57600,
		ReadTimeout:   500 * time.Millisecond,
		FrameCapacity: 100,
	}
}

func newTestLine(t *testing.T, port *fakePort) *Line {
	t.Helper()
	line, err := NewLine(port, testSerialConfig())
	if err != nil {
		t.Fatalf("NewLine() error = %v", err)
	}
	return line
}

func TestNewLineSetsTimeout(t *testing.T) {
	port := &fakePort{}
	newTestLine(t, port)

	if len(port.timeouts) != 1 || port.timeouts[0] != 500*time.Millisecond {
		t.Errorf("timeouts = %v, want [500ms]", port.timeouts)
	}
}

func TestNewLineDefaults(t *testing.T) {
	line, err := NewLine(&fakePort{}, config.SerialConfig{})
	if err != nil {
		t.Fatalf("NewLine() error = %v", err)
	}
	if line.capacity != defaultFrameCapacity || line.timeout != defaultReadTimeout {
		t.Errorf("capacity=%d timeout=%v, want defaults", line.capacity, line.timeout)
	}
}

func TestReadLine(t *testing.T) {
	tests := []struct {
		name          string
		reads         []string
		wantFrames    []string
		wantTruncated []bool
	}{
		{
			name:          "single frame",
			reads:         []string{"sensors/temp 21.5*\n"},
			wantFrames:    []string{"sensors/temp 21.5*"},
			wantTruncated: []bool{false},
		},
		{
			name:          "frame split across reads",
			reads:         []string{"sens", "ors/temp 2", "1.5*\n"},
			wantFrames:    []string{"sensors/temp 21.5*"},
			wantTruncated: []bool{false},
		},
		{
			name:          "two frames in one read",
			reads:         []string{"a 1*\nb 2*\n"},
			wantFrames:    []string{"a 1*", "b 2*"},
			wantTruncated: []bool{false, false},
		},
		{
			name:          "timeout returns partial",
			reads:         []string{"a 1"},
			wantFrames:    []string{"a 1"},
			wantTruncated: []bool{false},
		},
		{
			name:          "bare terminator",
			reads:         []string{"\n"},
			wantFrames:    []string{""},
			wantTruncated: []bool{false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{}
			for _, r := range tt.reads {
				port.reads = append(port.reads, []byte(r))
			}
			line := newTestLine(t, port)

			for i, want := range tt.wantFrames {
				got, truncated, err := line.ReadLine()
				if err != nil {
					t.Fatalf("ReadLine() #%d error = %v", i, err)
				}
				if string(got) != want {
					t.Errorf("ReadLine() #%d = %q, want %q", i, got, want)
				}
				if truncated != tt.wantTruncated[i] {
					t.Errorf("ReadLine() #%d truncated = %v, want %v", i, truncated, tt.wantTruncated[i])
				}
			}
		})
	}
}

func TestReadLineTimeoutEmpty(t *testing.T) {
	line := newTestLine(t, &fakePort{})

	got, truncated, err := line.ReadLine()
	if err != nil || truncated || len(got) != 0 {
		t.Errorf("ReadLine() = %q, %v, %v; want empty frame", got, truncated, err)
	}
}

func TestReadLineTruncatesAtCapacity(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 150)
	port := &fakePort{reads: [][]byte{append(long, '\n')}}
	line := newTestLine(t, port)

	first, truncated, err := line.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine() error = %v", err)
	}
	if len(first) != 100 || !truncated {
		t.Errorf("first frame len=%d truncated=%v, want 100 true", len(first), truncated)
	}

	// Remaining bytes begin the next frame
	second, truncated, err := line.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine() error = %v", err)
	}
	if len(second) != 50 || truncated {
		t.Errorf("second frame len=%d truncated=%v, want 50 false", len(second), truncated)
	}
}

func TestReadLineError(t *testing.T) {
	port := &fakePort{readErr: errors.New("input/output error")}
	line := newTestLine(t, port)

	_, _, err := line.ReadLine()
	if !errors.Is(err, ErrReadFailed) {
		t.Errorf("ReadLine() error = %v, want ErrReadFailed", err)
	}
	if !IsDisconnected(err) {
		t.Error("IsDisconnected() = false for I/O error")
	}
}

func TestAvailable(t *testing.T) {
	port := &fakePort{}
	line := newTestLine(t, port)

	if line.Available() {
		t.Error("Available() = true with nothing to read")
	}

	port.reads = [][]byte{[]byte("a 1*\n")}
	if !line.Available() {
		t.Fatal("Available() = false with data waiting")
	}
	if len(line.pending) != 5 {
		t.Errorf("pending = %d bytes, want 5", len(line.pending))
	}

	// Peeked bytes are not lost
	got, _, _ := line.ReadLine()
	if string(got) != "a 1*" {
		t.Errorf("ReadLine() = %q, want a 1*", got)
	}

	// Available must restore the configured timeout
	last := port.timeouts[len(port.timeouts)-1]
	if last != 500*time.Millisecond {
		t.Errorf("timeout after Available = %v, want 500ms", last)
	}
}

func TestAvailableReportsDeviceError(t *testing.T) {
	port := &fakePort{readErr: errors.New("read /dev/ttyUSB0: input/output error")}
	line := newTestLine(t, port)

	if !line.Available() {
		t.Fatal("Available() = false with a device error pending")
	}

	_, _, err := line.ReadLine()
	if !errors.Is(err, ErrReadFailed) {
		t.Fatalf("ReadLine() error = %v, want ErrReadFailed", err)
	}
	if !IsDisconnected(err) {
		t.Errorf("IsDisconnected(%v) = false", err)
	}
}

func TestAvailableKeepsBytesBeforeError(t *testing.T) {
	port := &fakePort{
		reads:   [][]byte{[]byte("a 1*\n")},
		readErr: errors.New("input/output error"),
	}
	line := newTestLine(t, port)

	if !line.Available() {
		t.Fatal("Available() = false with data waiting")
	}
	got, _, err := line.ReadLine()
	if err != nil || string(got) != "a 1*" {
		t.Fatalf("ReadLine() = %q, %v; want a 1*", got, err)
	}

	if !line.Available() {
		t.Fatal("Available() = false with a device error pending")
	}
	if _, _, err := line.ReadLine(); !errors.Is(err, ErrReadFailed) {
		t.Errorf("ReadLine() error = %v, want ErrReadFailed", err)
	}
}

func TestAvailableTimeoutRestoreFailure(t *testing.T) {
	port := &fakePort{}
	line := newTestLine(t, port)

	restoreErr := errors.New("inappropriate ioctl for device")
	port.timeoutErr = func(d time.Duration) error {
		if d > 0 {
			return restoreErr
		}
		return nil
	}

	if !line.Available() {
		t.Fatal("Available() = false after the timeout could not be restored")
	}
	_, _, err := line.ReadLine()
	if !errors.Is(err, ErrReadFailed) || !errors.Is(err, restoreErr) {
		t.Errorf("ReadLine() error = %v, want ErrReadFailed wrapping %v", err, restoreErr)
	}
}

func TestAvailableTimeoutClearFailure(t *testing.T) {
	port := &fakePort{}
	line := newTestLine(t, port)
	port.timeoutErr = func(time.Duration) error { return errors.New("bad file descriptor") }

	if !line.Available() {
		t.Fatal("Available() = false after the timeout could not be cleared")
	}
	if _, _, err := line.ReadLine(); !errors.Is(err, ErrReadFailed) {
		t.Errorf("ReadLine() error = %v, want ErrReadFailed", err)
	}
}

func TestWrite(t *testing.T) {
	port := &fakePort{maxWrite: 3}
	line := newTestLine(t, port)

	n, err := line.Write([]byte("[MQTT] rf/config ON*\n"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 21 || port.written.String() != "[MQTT] rf/config ON*\n" {
		t.Errorf("Write() n=%d written=%q", n, port.written.String())
	}
}

func TestWriteError(t *testing.T) {
	port := &fakePort{writeErr: errors.New("broken pipe")}
	line := newTestLine(t, port)

	if _, err := line.Write([]byte("x")); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Write() error = %v, want ErrWriteFailed", err)
	}
}

func TestClose(t *testing.T) {
	port := &fakePort{}
	line := newTestLine(t, port)

	if err := line.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !port.closed {
		t.Error("port not closed")
	}
}

func TestIsDisconnected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "io error", err: errors.New("read /dev/ttyS0: input/output error"), want: true},
		{name: "no device", err: errors.New("no such device"), want: true},
		{name: "other", err: errors.New("resource temporarily unavailable"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDisconnected(tt.err); got != tt.want {
				t.Errorf("IsDisconnected(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
