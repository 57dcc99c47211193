package remote

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/goburrow/modbus"
)

// Transport failure taxonomy. Every error surfaced by a backend wraps one of
// these sentinels or is a *DeviceError, so callers can dispatch with
// errors.Is / errors.As without inspecting strings.
var (
	// ErrConfig marks malformed transport parameters. Fatal; retrying
	// cannot help.
	ErrConfig = errors.New("invalid transport configuration")
	// ErrConnection marks a refused or unreachable link.
	ErrConnection = errors.New("connection failed")
	// ErrNotConnected marks a register exchange attempted before Connect
	// or after the link was released.
	ErrNotConnected = errors.New("not connected")
	// ErrTimeout marks a register exchange that received no response
	// within the configured bound.
	ErrTimeout = errors.New("exchange timed out")
	// ErrValidation marks a malformed request rejected before any raw I/O.
	ErrValidation = errors.New("invalid request")
)

// DeviceError carries a Modbus exception reported by the remote unit.
type DeviceError struct {
	Function  byte
	Exception byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device exception %d (function %d)", e.Exception, e.Function)
}

// translate folds the transport collaborator's error surface into the
// taxonomy above. op names the failed exchange for the error message.
func translate(op string, err error) error {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return fmt.Errorf("%s: %w", op, &DeviceError{Function: mbErr.FunctionCode, Exception: mbErr.ExceptionCode})
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrConnection, err)
}
