package pgva

import (
	"fmt"
	"math"

	"github.com/timzifer/pgva/registers"
	"github.com/timzifer/pgva/remote"
	"github.com/timzifer/pgva/units"
)

// SensorReading is one internal sensor channel value in millibar.
type SensorReading struct {
	Channel  registers.Tag
	Millibar int
}

// SensorSnapshot holds the internal sensor values captured by a single
// multi-register read, in register order.
type SensorSnapshot []SensorReading

// Value returns the reading for a channel tag.
func (s SensorSnapshot) Value(tag registers.Tag) (int, bool) {
	for _, reading := range s {
		if reading.Channel == tag {
			return reading.Millibar, true
		}
	}
	return 0, false
}

// SetOutputPressure sets the output port pressure setpoint in millibar.
// The pump must be enabled first; see TogglePump.
func (d *Driver) SetOutputPressure(pressure int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return d.fail("set_output_pressure", fmt.Errorf("set output pressure: %w", remote.ErrNotConnected))
	}
	if pressure < MinOutputPressureMbar || pressure > MaxOutputPressureMbar {
		return d.fail("set_output_pressure", &units.RangeError{
			Tag: registers.OutputPressure, Value: float64(pressure),
			Min: MinOutputPressureMbar, Max: MaxOutputPressureMbar, Unit: "mbar",
		})
	}
	if err := d.ensurePumpEnabledLocked(); err != nil {
		return d.fail("set_output_pressure", err)
	}
	d.logger.Info().Int("mbar", pressure).Msg("setting output pressure")
	return d.fail("set_output_pressure", d.writeTagLocked(registers.OutputPressure, float64(pressure)))
}

// OutputPressure reads the output port pressure in millibar.
func (d *Driver) OutputPressure() (int, error) {
	return d.readMillibar("get_output_pressure", registers.OutputPressureActual)
}

// SetPressureChamber sets the internal pressure chamber setpoint in
// millibar. The device stores the threshold in scaled counts; the conversion
// factor lives in the register map.
func (d *Driver) SetPressureChamber(pressure int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return d.fail("set_pressure_chamber", fmt.Errorf("set pressure chamber: %w", remote.ErrNotConnected))
	}
	if pressure < MinPressureChamberMbar || pressure > MaxPressureChamberMbar {
		return d.fail("set_pressure_chamber", &units.RangeError{
			Tag: registers.PressureThreshold, Value: float64(pressure),
			Min: MinPressureChamberMbar, Max: MaxPressureChamberMbar, Unit: "mbar",
		})
	}
	d.logger.Info().Int("mbar", pressure).Msg("setting pressure chamber")
	return d.fail("set_pressure_chamber", d.writeTagLocked(registers.PressureThreshold, float64(pressure)))
}

// SetVacuumChamber sets the internal vacuum chamber setpoint in millibar.
func (d *Driver) SetVacuumChamber(vacuum int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return d.fail("set_vacuum_chamber", fmt.Errorf("set vacuum chamber: %w", remote.ErrNotConnected))
	}
	if vacuum < MinVacuumChamberMbar || vacuum > MaxVacuumChamberMbar {
		return d.fail("set_vacuum_chamber", &units.RangeError{
			Tag: registers.VacuumThreshold, Value: float64(vacuum),
			Min: MinVacuumChamberMbar, Max: MaxVacuumChamberMbar, Unit: "mbar",
		})
	}
	d.logger.Info().Int("mbar", vacuum).Msg("setting vacuum chamber")
	return d.fail("set_vacuum_chamber", d.writeTagLocked(registers.VacuumThreshold, float64(vacuum)))
}

// PressureChamber reads the internal pressure chamber actual in millibar.
func (d *Driver) PressureChamber() (int, error) {
	return d.readMillibar("get_pressure_chamber", registers.PressureActual)
}

// VacuumChamber reads the internal vacuum chamber actual in millibar.
func (d *Driver) VacuumChamber() (int, error) {
	return d.readMillibar("get_vacuum_chamber", registers.VacuumActual)
}

// ExternalSensor reads the external sensor channel in millibar.
func (d *Driver) ExternalSensor() (int, error) {
	return d.readMillibar("get_external_sensor", registers.ExternalSensor)
}

func (d *Driver) readMillibar(command string, tag registers.Tag) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	value, err := d.readTagLocked(tag)
	if err != nil {
		return 0, d.fail(command, err)
	}
	return int(math.Round(value)), nil
}

// InternalSensorData reads all internal sensor channels atomically as one
// multi-register read spanning the contiguous sensor block.
func (d *Driver) InternalSensorData() (SensorSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, d.fail("get_internal_sensor_data", fmt.Errorf("read sensor data: %w", remote.ErrNotConnected))
	}
	block := d.regs.SensorBlock()
	words, err := d.backend.ReadInputRegisters(block.Start, block.Count)
	if err != nil {
		return nil, d.fail("get_internal_sensor_data", err)
	}
	d.collector.IncRegisterRead("sensor_block")
	snapshot := make(SensorSnapshot, 0, len(block.Channels))
	for _, tag := range block.Channels {
		entry, err := d.regs.Lookup(tag)
		if err != nil {
			return nil, d.fail("get_internal_sensor_data", err)
		}
		offset := entry.Address - block.Start
		value, err := units.Decode(entry, words[offset:offset+entry.Width])
		if err != nil {
			return nil, d.fail("get_internal_sensor_data", err)
		}
		snapshot = append(snapshot, SensorReading{Channel: tag, Millibar: int(math.Round(value))})
		d.collector.SetSensorValue(string(tag), value)
	}
	d.logger.Debug().Interface("snapshot", snapshot).Msg("internal sensor data")
	return snapshot, nil
}

// TogglePump enables or disables the pump that builds pressure and vacuum.
func (d *Driver) TogglePump(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return d.fail("toggle_pump", fmt.Errorf("toggle pump: %w", remote.ErrNotConnected))
	}
	if !d.pumpControlSupportedLocked() {
		d.logger.Info().Msg("firmware does not expose pump control")
		return nil
	}
	value := 0.0
	if on {
		value = 1.0
	}
	d.logger.Info().Bool("on", on).Msg("toggling pump")
	return d.fail("toggle_pump", d.writeTagLocked(registers.PumpEnable, value))
}

func (d *Driver) ensurePumpEnabledLocked() error {
	if !d.pumpControlSupportedLocked() {
		return nil
	}
	enabled, err := d.readTagLocked(registers.PumpEnable)
	if err != nil {
		return err
	}
	if enabled != 1 {
		return fmt.Errorf("enable the pump before setting output pressure: %w", ErrPumpDisabled)
	}
	return nil
}
