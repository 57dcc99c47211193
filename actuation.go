package pgva

import (
	"context"
	"fmt"
	"time"

	"github.com/timzifer/pgva/registers"
	"github.com/timzifer/pgva/remote"
	"github.com/timzifer/pgva/units"
)

// TriggerActuationValve opens the output valve for the requested duration:
// it writes the actuation time setpoint, opens the trigger and holds the
// connection for the duration before closing the trigger again. The clear
// write is guaranteed on every exit path; cancelling ctx mid-hold aborts the
// wait but still closes the valve before the cancellation is propagated.
//
// No other command can run against this driver instance while the hold is in
// progress.
func (d *Driver) TriggerActuationValve(ctx context.Context, duration time.Duration) (err error) {
	defer func() { err = d.fail("trigger_actuation_valve", err) }()
	if duration < MinActuationTime || duration > MaxActuationTime {
		return &units.RangeError{
			Tag: registers.ValveActuationTime, Value: float64(duration.Milliseconds()),
			Min: float64(MinActuationTime.Milliseconds()), Max: float64(MaxActuationTime.Milliseconds()), Unit: "ms",
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("trigger actuation valve: %w", remote.ErrNotConnected)
	}
	d.logger.Info().Dur("duration", duration).Msg("triggering actuation valve")
	if err := d.writeTagLocked(registers.ValveActuationTime, float64(duration.Milliseconds())); err != nil {
		return err
	}
	if err := d.writeTagLocked(registers.ManualTrigger, 1); err != nil {
		return err
	}
	defer func() {
		if clearErr := d.clearTriggerLocked(); clearErr != nil {
			d.logger.Error().Err(clearErr).Msg("failed to clear actuation trigger")
			if err == nil {
				err = clearErr
			}
		}
	}()
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clearTriggerLocked closes the actuation valve. When the device firmware is
// declared auto-clearing the driver only asserts the trigger state instead
// of writing.
func (d *Driver) clearTriggerLocked() error {
	if d.autoClearTrigger {
		status, err := d.readTagLocked(registers.StatusWord)
		if err != nil {
			return err
		}
		if uint16(status)&statusBitTrigger != 0 {
			d.logger.Warn().Msg("trigger still open after hold despite auto-clear firmware")
		}
		return nil
	}
	return d.writeTagLocked(registers.ManualTrigger, 0)
}

// ToggleTrigger opens or closes the actuation valve manually. Firmware up to
// 2.0.45 rejects manual trigger writes; the driver refuses the call there.
func (d *Driver) ToggleTrigger(open bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return d.fail("toggle_trigger", fmt.Errorf("toggle trigger: %w", remote.ErrNotConnected))
	}
	if !d.manualTriggerSupportedLocked() {
		return d.fail("toggle_trigger", fmt.Errorf("manual trigger requires firmware newer than 2.0.45: %w", ErrUnsupported))
	}
	value := 0.0
	if open {
		value = 1.0
	}
	d.logger.Info().Bool("open", open).Msg("toggling manual trigger")
	return d.fail("toggle_trigger", d.writeTagLocked(registers.ManualTrigger, value))
}

func (d *Driver) manualTriggerSupportedLocked() bool {
	fw := d.firmware
	switch {
	case fw[0] != 2:
		return fw[0] > 2
	case fw[1] != 0:
		return fw[1] > 0
	default:
		return fw[2] > 45
	}
}
