package remote

import (
	"fmt"

	"github.com/goburrow/modbus"

	"github.com/timzifer/pgva/config"
)

var supportedBaudRates = map[int]struct{}{
	9600:   {},
	19200:  {},
	38400:  {},
	57600:  {},
	115200: {},
}

// NewSerial builds the stream-oriented backend variant for a Modbus RTU unit
// on a serial line. The connection handle is created unopened; call Connect
// before use.
func NewSerial(cfg config.SerialTransport) (Backend, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial transport: device is required: %w", ErrConfig)
	}
	if _, ok := supportedBaudRates[cfg.BaudRate]; !ok {
		return nil, fmt.Errorf("serial transport: unsupported baud rate %d: %w", cfg.BaudRate, ErrConfig)
	}
	handler := modbus.NewRTUClientHandler(cfg.Device)
	handler.BaudRate = cfg.BaudRate
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.SlaveId = cfg.UnitID
	handler.Timeout = cfg.Timeout.Duration
	if handler.Timeout <= 0 {
		handler.Timeout = DefaultTimeout
	}
	return &backend{
		handler:   handler,
		newClient: func() Client { return modbus.NewClient(handler) },
		desc:      fmt.Sprintf("modbus-rtu %s @%d unit %d", cfg.Device, cfg.BaudRate, cfg.UnitID),
	}, nil
}
