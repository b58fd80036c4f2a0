package serial

import (
	"fmt"
	"time"

	goserial "go.bug.st/serial"

	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/config"
)

// Port is the subset of a serial device used by Line.
// go.bug.st/serial.Port satisfies it.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Open opens the configured device as 8N1 and wraps it in a Line.
//
// Parameters:
//   - cfg: Serial configuration from config.yaml
//
// Returns:
//   - *Line: Line reader ready for polling
//   - error: wraps ErrOpenFailed if the device cannot be opened
func Open(cfg config.SerialConfig) (*Line, error) {
	port, err := goserial.Open(cfg.Port, &goserial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, cfg.Port, err)
	}

	line, err := NewLine(port, cfg)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return line, nil
}

// ListPorts returns the serial devices present on the system.
func ListPorts() ([]string, error) {
	ports, err := goserial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("serial: listing ports: %w", err)
	}
	return ports, nil
}
