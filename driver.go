// Package pgva drives the Festo PGVA-1 pressure/vacuum generator over a
// Modbus register transport. The driver validates physical-unit inputs,
// converts them to raw register values and sequences the exchanges on a
// single owned connection; raw register words never cross its public
// surface.
package pgva

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/pgva/config"
	"github.com/timzifer/pgva/registers"
	"github.com/timzifer/pgva/remote"
	"github.com/timzifer/pgva/telemetry"
	"github.com/timzifer/pgva/units"
)

// Working ranges from the PGVA-1 operation manual. Values outside these
// ranges are rejected before any transport write.
const (
	MinOutputPressureMbar  = -450
	MaxOutputPressureMbar  = 450
	MinPressureChamberMbar = 200
	MaxPressureChamberMbar = 1000
	MinVacuumChamberMbar   = -900
	MaxVacuumChamberMbar   = -200

	MinActuationTime = 5 * time.Millisecond
	MaxActuationTime = 65534 * time.Millisecond
)

const (
	defaultStatusPollInterval = 10 * time.Millisecond
	defaultStatusPollTimeout  = 2 * time.Second
)

var (
	// ErrPumpDisabled is returned when a pressure setpoint is requested
	// while the pump is switched off.
	ErrPumpDisabled = errors.New("pump is disabled")
	// ErrUnsupported marks an operation the connected firmware cannot
	// perform.
	ErrUnsupported = errors.New("not supported by device firmware")
)

// Driver is the command layer facade. All operations on one instance are
// serialized against its single connection; independent instances share no
// mutable state.
type Driver struct {
	mu        sync.Mutex
	backend   remote.Backend
	regs      *registers.Map
	logger    zerolog.Logger
	collector telemetry.Collector

	pollInterval     time.Duration
	pollTimeout      time.Duration
	autoClearTrigger bool

	connected bool
	firmware  [3]uint16
}

// New builds a driver for the transport variant selected by cfg. The
// connection is not opened; call Connect before issuing commands.
func New(cfg config.Transport, opts ...Option) (*Driver, error) {
	d := &Driver{
		regs:         registers.Device(),
		logger:       zerolog.Nop(),
		collector:    telemetry.Noop(),
		pollInterval: defaultStatusPollInterval,
		pollTimeout:  defaultStatusPollTimeout,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.backend == nil {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", remote.ErrConfig, err)
		}
		var err error
		switch {
		case cfg.TCP != nil:
			d.backend, err = remote.NewTCP(*cfg.TCP)
		case cfg.Serial != nil:
			d.backend, err = remote.NewSerial(*cfg.Serial)
		}
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Connect opens the transport link and caches the device firmware version.
// It is idempotent.
func (d *Driver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return nil
	}
	if err := d.backend.Connect(); err != nil {
		d.collector.IncCommandError("connect")
		return err
	}
	d.connected = true
	firmwareTags := []registers.Tag{registers.FirmwareVersion, registers.FirmwareSubversion, registers.FirmwareBuild}
	for i, tag := range firmwareTags {
		value, err := d.readTagLocked(tag)
		if err != nil {
			d.connected = false
			_ = d.backend.Disconnect()
			d.collector.IncCommandError("connect")
			return fmt.Errorf("read firmware version: %w", err)
		}
		d.firmware[i] = uint16(value)
	}
	d.logger.Info().
		Str("transport", d.backend.Describe()).
		Str("firmware", d.firmwareStringLocked()).
		Msg("pgva connected")
	return nil
}

// Disconnect releases the transport link. Safe to call multiple times.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil
	}
	d.connected = false
	if err := d.backend.Disconnect(); err != nil {
		return err
	}
	d.logger.Info().Str("transport", d.backend.Describe()).Msg("pgva disconnected")
	return nil
}

func (d *Driver) firmwareStringLocked() string {
	return fmt.Sprintf("%d.%d.%d", d.firmware[0], d.firmware[1], d.firmware[2])
}

// pumpControlSupportedLocked reports whether the connected firmware exposes
// the pump enable register. Firmware 2.1.3 does not.
func (d *Driver) pumpControlSupportedLocked() bool {
	return d.firmware != [3]uint16{2, 1, 3}
}

func (d *Driver) readTagLocked(tag registers.Tag) (float64, error) {
	if !d.connected {
		return 0, fmt.Errorf("read %s: %w", tag, remote.ErrNotConnected)
	}
	entry, err := d.regs.Lookup(tag)
	if err != nil {
		return 0, err
	}
	if !entry.Readable() {
		return 0, fmt.Errorf("register %s is not readable: %w", tag, remote.ErrValidation)
	}
	var words []uint16
	switch entry.Table {
	case registers.TableInput:
		words, err = d.backend.ReadInputRegisters(entry.Address, entry.Width)
	case registers.TableHolding:
		words, err = d.backend.ReadHoldingRegisters(entry.Address, entry.Width)
	default:
		return 0, fmt.Errorf("register %s: unknown table %q: %w", tag, entry.Table, registers.ErrUnknownRegister)
	}
	if err != nil {
		return 0, err
	}
	d.collector.IncRegisterRead(string(tag))
	return units.Decode(entry, words)
}

func (d *Driver) writeTagLocked(tag registers.Tag, value float64) error {
	entry, err := d.regs.Lookup(tag)
	if err != nil {
		return err
	}
	words, err := units.Encode(entry, value)
	if err != nil {
		return err
	}
	return d.writeWordsLocked(entry, words)
}

// writeWordsLocked is the single raw write path: it validates word count
// against the entry width before any I/O, issues the write and then waits
// for the device to leave the busy state.
func (d *Driver) writeWordsLocked(entry registers.Entry, words []uint16) error {
	if len(words) != int(entry.Width) {
		return fmt.Errorf("register %s expects %d words, got %d: %w", entry.Tag, entry.Width, len(words), remote.ErrValidation)
	}
	if !entry.Writable() {
		return fmt.Errorf("register %s is not writable: %w", entry.Tag, remote.ErrValidation)
	}
	if !d.connected {
		return fmt.Errorf("write %s: %w", entry.Tag, remote.ErrNotConnected)
	}
	if err := d.backend.WriteRegisters(entry.Address, words); err != nil {
		return err
	}
	d.collector.IncRegisterWrite(string(entry.Tag))
	return d.awaitIdleLocked()
}

// awaitIdleLocked polls the status word until the busy bit clears. The
// device latches setpoint writes while busy, so the next command must not be
// issued earlier.
func (d *Driver) awaitIdleLocked() error {
	deadline := time.Now().Add(d.pollTimeout)
	for {
		status, err := d.readTagLocked(registers.StatusWord)
		if err != nil {
			return err
		}
		if uint16(status)&statusBitBusy == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("device busy after write: %w", remote.ErrTimeout)
		}
		time.Sleep(d.pollInterval)
	}
}

// fail counts a failed command and passes the error through unchanged.
func (d *Driver) fail(command string, err error) error {
	if err != nil {
		d.collector.IncCommandError(command)
	}
	return err
}
