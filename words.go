package pgva

import (
	"github.com/timzifer/pgva/registers"
)

// Status word bit layout per the PGVA-1 operation manual.
const (
	statusBitBusy         = 1 << 0
	statusPumpShift       = 1
	statusPumpMask        = 0b11
	statusBitPressureLow  = 1 << 3
	statusBitVacuumLow    = 1 << 4
	statusBitEEPROM       = 1 << 5
	statusBitTargetOK     = 1 << 6
	statusBitTrigger      = 1 << 7
	statusBitValveControl = 1 << 10
	statusBitValveOpen    = 1 << 11
)

// PumpState reports what the pump is currently building.
type PumpState uint8

const (
	PumpOff PumpState = iota
	PumpBuildingPressure
	PumpBuildingVacuum
)

func (s PumpState) String() string {
	switch s {
	case PumpBuildingPressure:
		return "building pressure"
	case PumpBuildingVacuum:
		return "building vacuum"
	default:
		return "off"
	}
}

// Status is the decoded device status word.
type Status struct {
	Busy                   bool
	Pump                   PumpState
	PressureBelowThreshold bool
	VacuumBelowThreshold   bool
	EEPROMWritePending     bool
	TargetPressureReached  bool
	TriggerOpen            bool
	ExhaustValveManaged    bool
	ExhaustValveOpen       bool
}

func decodeStatus(word uint16) Status {
	return Status{
		Busy:                   word&statusBitBusy != 0,
		Pump:                   PumpState((word >> statusPumpShift) & statusPumpMask),
		PressureBelowThreshold: word&statusBitPressureLow != 0,
		VacuumBelowThreshold:   word&statusBitVacuumLow != 0,
		EEPROMWritePending:     word&statusBitEEPROM != 0,
		TargetPressureReached:  word&statusBitTargetOK != 0,
		TriggerOpen:            word&statusBitTrigger != 0,
		ExhaustValveManaged:    word&statusBitValveControl != 0,
		ExhaustValveOpen:       word&statusBitValveOpen != 0,
	}
}

// Warnings is the decoded device warning word.
type Warnings struct {
	SupplyVoltage              bool
	VacuumThresholdUnreached   bool
	PressureThresholdUnreached bool
	TargetPressureUnreached    bool
	VacuumChamberTooLow        bool
	PumpRuntime                bool
	ExternalSensor             bool
}

// Any reports whether at least one warning is active.
func (w Warnings) Any() bool {
	return w != Warnings{}
}

func decodeWarnings(word uint16) Warnings {
	return Warnings{
		SupplyVoltage:              word&(1<<0) != 0,
		VacuumThresholdUnreached:   word&(1<<1) != 0,
		PressureThresholdUnreached: word&(1<<2) != 0,
		TargetPressureUnreached:    word&(1<<4) != 0,
		VacuumChamberTooLow:        word&(1<<5) != 0,
		PumpRuntime:                word&(1<<7) != 0,
		ExternalSensor:             word&(1<<9) != 0,
	}
}

// Faults is the decoded device error word.
type Faults struct {
	PumpTimeout           bool
	PressureTimeout       bool
	ModbusError           bool
	LowVoltage            bool
	HighVoltage           bool
	ExternalSensorTimeout bool
}

// Any reports whether at least one fault is active.
func (f Faults) Any() bool {
	return f != Faults{}
}

func decodeFaults(word uint16) Faults {
	return Faults{
		PumpTimeout:           word&(1<<0) != 0,
		PressureTimeout:       word&(1<<1) != 0,
		ModbusError:           word&(1<<2) != 0,
		LowVoltage:            word&(1<<3) != 0,
		HighVoltage:           word&(1<<4) != 0,
		ExternalSensorTimeout: word&(1<<5) != 0,
	}
}

// ModbusFault is the decoded last-modbus-error word.
type ModbusFault struct {
	ActuationTimeRejected bool
}

func decodeModbusFault(word uint16) ModbusFault {
	return ModbusFault{ActuationTimeRejected: word&(1<<0) != 0}
}

func (d *Driver) readWord(command string, tag registers.Tag) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	value, err := d.readTagLocked(tag)
	if err != nil {
		return 0, d.fail(command, err)
	}
	return uint16(value), nil
}

// Status reads and decodes the device status word.
func (d *Driver) Status() (Status, error) {
	word, err := d.readWord("get_status_word", registers.StatusWord)
	if err != nil {
		return Status{}, err
	}
	return decodeStatus(word), nil
}

// Warnings reads and decodes the device warning word. Active warnings are
// logged.
func (d *Driver) Warnings() (Warnings, error) {
	word, err := d.readWord("get_warning_word", registers.WarningWord)
	if err != nil {
		return Warnings{}, err
	}
	warnings := decodeWarnings(word)
	if warnings.Any() {
		d.logger.Warn().Interface("warnings", warnings).Msg("active device warnings")
	}
	return warnings, nil
}

// Faults reads and decodes the device error word. Active faults are logged.
func (d *Driver) Faults() (Faults, error) {
	word, err := d.readWord("get_error_word", registers.ErrorWord)
	if err != nil {
		return Faults{}, err
	}
	faults := decodeFaults(word)
	if faults.Any() {
		d.logger.Error().Interface("faults", faults).Msg("active device faults")
	}
	return faults, nil
}

// LastModbusFault reads and decodes the last-modbus-error word.
func (d *Driver) LastModbusFault() (ModbusFault, error) {
	word, err := d.readWord("get_modbus_error_word", registers.LastModbusError)
	if err != nil {
		return ModbusFault{}, err
	}
	return decodeModbusFault(word), nil
}
