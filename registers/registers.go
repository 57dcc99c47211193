// Package registers holds the PGVA-1 register map: the single source of
// truth for the correspondence between logical device quantities and their
// raw Modbus register encoding. The map is built once and never mutated, so
// any number of driver instances may share it concurrently.
package registers

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Tag identifies a logical device quantity independent of its raw register
// encoding.
type Tag string

// Input register tags (device actuals and words, read-only).
const (
	VacuumActual         Tag = "vacuum_actual"
	PressureActual       Tag = "pressure_actual"
	OutputPressureActual Tag = "output_pressure_actual"
	FirmwareVersion      Tag = "firmware_version"
	FirmwareSubversion   Tag = "firmware_subversion"
	FirmwareBuild        Tag = "firmware_build"
	StatusWord           Tag = "status_word"
	ErrorWord            Tag = "error_word"
	WarningWord          Tag = "warning_word"
	LastModbusError      Tag = "last_modbus_error"
	ExternalSensor       Tag = "external_sensor"
)

// Holding register tags (setpoints and control, writable).
const (
	ValveActuationTime Tag = "valve_actuation_time"
	VacuumThreshold    Tag = "vacuum_threshold"
	PressureThreshold  Tag = "pressure_threshold"
	OutputPressure     Tag = "output_pressure"
	ManualTrigger      Tag = "manual_trigger"
	PumpEnable         Tag = "pump_enable"
)

// Table selects the Modbus register table an entry lives in.
type Table string

const (
	// TableInput addresses the read-only input register table.
	TableInput Table = "input"
	// TableHolding addresses the read/write holding register table.
	TableHolding Table = "holding"
)

// Access describes the directions an entry supports.
type Access string

const (
	ReadOnly  Access = "read-only"
	WriteOnly Access = "write-only"
	ReadWrite Access = "read-write"
)

// Entry describes one register: where it lives, how wide it is and how raw
// counts map onto physical units. Scale is expressed as raw counts per
// physical unit, so encode multiplies and decode divides.
type Entry struct {
	Tag     Tag
	Address uint16
	Width   uint16
	Table   Table
	Access  Access
	Scale   decimal.Decimal
	Signed  bool
}

// Readable reports whether the entry may be read from the device.
func (e Entry) Readable() bool {
	return e.Access == ReadOnly || e.Access == ReadWrite
}

// Writable reports whether the entry may be written to the device.
func (e Entry) Writable() bool {
	return e.Access == WriteOnly || e.Access == ReadWrite
}

// ErrUnknownRegister marks a lookup of a tag that is not part of the device
// map. Hitting it at runtime indicates a defect in the driver, not a device
// condition.
var ErrUnknownRegister = errors.New("unknown register")

// Map is an immutable register table keyed by logical tag.
type Map struct {
	entries map[Tag]Entry
	order   []Tag
}

func newMap(entries ...Entry) (*Map, error) {
	m := &Map{entries: make(map[Tag]Entry, len(entries))}
	type slot struct {
		table   Table
		address uint16
	}
	occupied := make(map[slot]Tag)
	for _, entry := range entries {
		if entry.Tag == "" {
			return nil, fmt.Errorf("register entry without tag at address %d", entry.Address)
		}
		if _, exists := m.entries[entry.Tag]; exists {
			return nil, fmt.Errorf("register %s defined twice", entry.Tag)
		}
		if entry.Width != 1 && entry.Width != 2 {
			return nil, fmt.Errorf("register %s: unsupported width %d", entry.Tag, entry.Width)
		}
		if entry.Scale.IsZero() {
			return nil, fmt.Errorf("register %s: scale must not be zero", entry.Tag)
		}
		for w := uint16(0); w < entry.Width; w++ {
			s := slot{table: entry.Table, address: entry.Address + w}
			if other, taken := occupied[s]; taken {
				return nil, fmt.Errorf("register %s overlaps %s at %s address %d", entry.Tag, other, entry.Table, s.address)
			}
			occupied[s] = entry.Tag
		}
		m.entries[entry.Tag] = entry
		m.order = append(m.order, entry.Tag)
	}
	return m, nil
}

// Lookup resolves a logical tag to its register entry.
func (m *Map) Lookup(tag Tag) (Entry, error) {
	entry, ok := m.entries[tag]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownRegister, tag)
	}
	return entry, nil
}

// Tags returns all defined tags in declaration order.
func (m *Map) Tags() []Tag {
	return append([]Tag(nil), m.order...)
}

// Block describes a contiguous input register range that is read as a single
// multi-register request.
type Block struct {
	Start    uint16
	Count    uint16
	Channels []Tag
}

// SensorBlock returns the contiguous block of internal sensor actuals. The
// channel order matches the register layout.
func (m *Map) SensorBlock() Block {
	channels := []Tag{VacuumActual, PressureActual, OutputPressureActual}
	start := m.entries[channels[0]].Address
	var count uint16
	for _, tag := range channels {
		count += m.entries[tag].Width
	}
	return Block{Start: start, Count: count, Channels: channels}
}
