package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sync"

	"github.com/nerrad567/uart-mqtt-bridge/internal/infrastructure/config"
)

// ErrAssociateFailed is returned when the associate command cannot start.
var ErrAssociateFailed = errors.New("wifi: associate command failed")

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// iface is the view of a network interface Station needs.
type iface struct {
	up       bool
	loopback bool
	addrs    []net.Addr
}

// Station observes the network link that carries broker traffic.
type Station struct {
	cfg config.WiFiConfig

	// interfaces and start are replaced in tests.
	interfaces func() ([]iface, error)
	start      func(ctx context.Context, argv []string) (wait func() error, err error)

	logger   Logger
	loggerMu sync.RWMutex
}

// NewStation creates a station for the configured interface.
func NewStation(cfg config.WiFiConfig) *Station {
	s := &Station{cfg: cfg, start: startCommand}
	s.interfaces = s.systemInterfaces
	return s
}

// SetLogger sets a logger for associate command reporting.
func (s *Station) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Station) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Begin starts association without waiting for it to finish.
//
// With no associate command configured Begin does nothing and the OS is
// expected to bring the link up on its own. The command runs in the
// background; its exit status is only logged.
func (s *Station) Begin(ctx context.Context) error {
	if len(s.cfg.AssociateCommand) == 0 {
		return nil
	}

	wait, err := s.start(ctx, s.cfg.AssociateCommand)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAssociateFailed, err)
	}

	go func() {
		err := wait()
		logger := s.getLogger()
		if logger == nil {
			return
		}
		if err != nil {
			logger.Warn("associate command exited with error",
				"command", s.cfg.AssociateCommand[0],
				"error", err,
			)
			return
		}
		logger.Debug("associate command finished", "command", s.cfg.AssociateCommand[0])
	}()

	return nil
}

// Connected reports whether the link is up and holds an IPv4 address.
func (s *Station) Connected() bool {
	return s.LocalIP() != nil
}

// LocalIP returns the link's IPv4 address, or nil while disconnected.
func (s *Station) LocalIP() net.IP {
	ifaces, err := s.interfaces()
	if err != nil {
		return nil
	}

	for _, ifc := range ifaces {
		if !ifc.up || ifc.loopback {
			continue
		}
		for _, addr := range ifc.addrs {
			if ip := ipv4(addr); ip != nil {
				return ip
			}
		}
	}
	return nil
}

// systemInterfaces lists the configured interface, or all of them.
func (s *Station) systemInterfaces() ([]iface, error) {
	var candidates []net.Interface
	if s.cfg.Interface != "" {
		ifc, err := net.InterfaceByName(s.cfg.Interface)
		if err != nil {
			return nil, err
		}
		candidates = []net.Interface{*ifc}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return nil, err
		}
		candidates = all
	}

	result := make([]iface, 0, len(candidates))
	for _, ifc := range candidates {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		result = append(result, iface{
			up:       ifc.Flags&net.FlagUp != 0 && ifc.Flags&net.FlagRunning != 0,
			loopback: ifc.Flags&net.FlagLoopback != 0,
			addrs:    addrs,
		})
	}
	return result, nil
}

func ipv4(addr net.Addr) net.IP {
	var ip net.IP
	switch a := addr.(type) {
	case *net.IPNet:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	}
	if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return nil
	}
	return ip.To4()
}

func startCommand(ctx context.Context, argv []string) (func() error, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 -- operator-configured command
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}
