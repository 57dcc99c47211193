package remote

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/goburrow/modbus"

	"github.com/timzifer/pgva/config"
)

// DefaultTimeout bounds every register exchange when the configuration does
// not specify one. A dead link must never block a caller indefinitely.
const DefaultTimeout = 5 * time.Second

// NewTCP builds the packet-oriented backend variant for a Modbus TCP unit.
// The connection handle is created unopened; call Connect before use.
func NewTCP(cfg config.TCPTransport) (Backend, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("tcp transport: host is required: %w", ErrConfig)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("tcp transport: port %d out of range: %w", cfg.Port, ErrConfig)
	}
	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = cfg.UnitID
	handler.Timeout = cfg.Timeout.Duration
	if handler.Timeout <= 0 {
		handler.Timeout = DefaultTimeout
	}
	return &backend{
		handler:   handler,
		newClient: func() Client { return modbus.NewClient(handler) },
		desc:      fmt.Sprintf("modbus-tcp %s unit %d", address, cfg.UnitID),
	}, nil
}
