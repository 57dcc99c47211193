package pgva

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/pgva/config"
	"github.com/timzifer/pgva/registers"
	"github.com/timzifer/pgva/remote"
	"github.com/timzifer/pgva/units"
)

type registerWrite struct {
	address uint16
	words   []uint16
}

type registerSpan struct {
	address uint16
	count   uint16
}

// fakeBackend is an in-memory register bank implementing remote.Backend. It
// records every write in order and can inject per-address failures and read
// latency. Concurrent exchanges are flagged as overlap.
type fakeBackend struct {
	mu         sync.Mutex
	connected  bool
	input      map[uint16]uint16
	holding    map[uint16]uint16
	readErrs   map[uint16]error
	writeErrs  map[uint16]error
	writes     []registerWrite
	inputReads []registerSpan
	delay      time.Duration
	inFlight   int
	overlap    bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		input: map[uint16]uint16{
			259: 3, 260: 0, 261: 10, // firmware 3.0.10
		},
		holding:   map[uint16]uint16{},
		readErrs:  map[uint16]error{},
		writeErrs: map[uint16]error{},
	}
}

func (f *fakeBackend) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (f *fakeBackend) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeBackend) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeBackend) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeBackend) read(bank map[uint16]uint16, address, count uint16) ([]uint16, error) {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.readErrs[address]; ok {
		return nil, err
	}
	words := make([]uint16, count)
	for i := range words {
		words[i] = bank[address+uint16(i)]
	}
	return words, nil
}

func (f *fakeBackend) ReadInputRegisters(address, count uint16) ([]uint16, error) {
	f.mu.Lock()
	f.inputReads = append(f.inputReads, registerSpan{address: address, count: count})
	f.mu.Unlock()
	return f.read(f.input, address, count)
}

func (f *fakeBackend) resetInputReads() {
	f.mu.Lock()
	f.inputReads = nil
	f.mu.Unlock()
}

func (f *fakeBackend) ReadHoldingRegisters(address, count uint16) ([]uint16, error) {
	return f.read(f.holding, address, count)
}

func (f *fakeBackend) WriteRegisters(address uint16, words []uint16) error {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.writeErrs[address]; ok {
		return err
	}
	for i, word := range words {
		f.holding[address+uint16(i)] = word
	}
	f.writes = append(f.writes, registerWrite{address: address, words: append([]uint16(nil), words...)})
	return nil
}

func (f *fakeBackend) Describe() string { return "fake backend" }

func (f *fakeBackend) writtenValues(address uint16) []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var values []uint16
	for _, w := range f.writes {
		if w.address == address {
			values = append(values, w.words...)
		}
	}
	return values
}

func newTestDriver(t *testing.T, fake *fakeBackend, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{WithBackend(fake)}, opts...)
	d, err := New(config.Transport{}, opts...)
	require.NoError(t, err)
	return d
}

func connectedDriver(t *testing.T, fake *fakeBackend, opts ...Option) *Driver {
	t.Helper()
	d := newTestDriver(t, fake, opts...)
	require.NoError(t, d.Connect())
	return d
}

func TestNewRequiresTransportSelection(t *testing.T) {
	_, err := New(config.Transport{})
	require.ErrorIs(t, err, remote.ErrConfig)

	_, err = New(config.Transport{
		TCP:    &config.TCPTransport{Host: "10.0.0.5", Port: 502},
		Serial: &config.SerialTransport{Device: "/dev/ttyUSB0", BaudRate: 115200},
	})
	require.ErrorIs(t, err, remote.ErrConfig)
}

func TestConnectReadsFirmware(t *testing.T) {
	fake := newFakeBackend()
	d := connectedDriver(t, fake)

	info := d.Info()
	require.Equal(t, "3.0.10", info.Firmware)
	require.Equal(t, "fake backend", info.Transport)

	// Idempotent; no second firmware read sequence required.
	require.NoError(t, d.Connect())
	require.NoError(t, d.Disconnect())
	require.NoError(t, d.Disconnect())
}

func TestConnectFirmwareReadFailureReleasesLink(t *testing.T) {
	fake := newFakeBackend()
	fake.readErrs[259] = fmt.Errorf("boom: %w", remote.ErrConnection)
	d := newTestDriver(t, fake)

	require.ErrorIs(t, d.Connect(), remote.ErrConnection)
	require.False(t, fake.connected)

	_, err := d.OutputPressure()
	require.ErrorIs(t, err, remote.ErrNotConnected)
}

func TestCommandsRequireConnection(t *testing.T) {
	fake := newFakeBackend()
	d := newTestDriver(t, fake)

	require.ErrorIs(t, d.SetOutputPressure(100), remote.ErrNotConnected)
	require.ErrorIs(t, d.TogglePump(true), remote.ErrNotConnected)
	_, err := d.InternalSensorData()
	require.ErrorIs(t, err, remote.ErrNotConnected)
	require.ErrorIs(t, d.TriggerActuationValve(context.Background(), 50*time.Millisecond), remote.ErrNotConnected)
	require.Empty(t, fake.writes)
}

func TestSetOutputPressureWritesSetpoint(t *testing.T) {
	fake := newFakeBackend()
	fake.holding[4101] = 1 // pump enabled
	d := connectedDriver(t, fake)

	require.NoError(t, d.SetOutputPressure(100))
	require.Equal(t, []uint16{100}, fake.writtenValues(4099))

	require.NoError(t, d.SetOutputPressure(-450))
	require.Equal(t, []uint16{100, 0xFE3E}, fake.writtenValues(4099))
}

func TestSetOutputPressureRejectedOutOfRange(t *testing.T) {
	fake := newFakeBackend()
	fake.holding[4101] = 1
	d := connectedDriver(t, fake)

	var rangeErr *units.RangeError
	require.ErrorAs(t, d.SetOutputPressure(451), &rangeErr)
	require.Equal(t, registers.OutputPressure, rangeErr.Tag)
	require.ErrorAs(t, d.SetOutputPressure(-451), &rangeErr)
	require.Empty(t, fake.writes)
}

func TestSetOutputPressureRequiresPump(t *testing.T) {
	fake := newFakeBackend()
	d := connectedDriver(t, fake)

	require.ErrorIs(t, d.SetOutputPressure(100), ErrPumpDisabled)
	require.Empty(t, fake.writes)

	require.NoError(t, d.TogglePump(true))
	require.NoError(t, d.SetOutputPressure(100))
	require.Equal(t, []uint16{100}, fake.writtenValues(4099))
}

func TestChamberSetpointsUseScaledCounts(t *testing.T) {
	fake := newFakeBackend()
	d := connectedDriver(t, fake)

	require.NoError(t, d.SetPressureChamber(500))
	require.Equal(t, []uint16{902}, fake.writtenValues(4098))

	require.NoError(t, d.SetVacuumChamber(-400))
	require.Equal(t, []uint16{1444}, fake.writtenValues(4097))
}

func TestChamberSetpointRanges(t *testing.T) {
	fake := newFakeBackend()
	d := connectedDriver(t, fake)

	var rangeErr *units.RangeError
	require.ErrorAs(t, d.SetPressureChamber(199), &rangeErr)
	require.ErrorAs(t, d.SetPressureChamber(1001), &rangeErr)
	require.ErrorAs(t, d.SetVacuumChamber(-901), &rangeErr)
	require.ErrorAs(t, d.SetVacuumChamber(-199), &rangeErr)
	require.Empty(t, fake.writes)
}

func TestSensorReadsDecodeTwosComplement(t *testing.T) {
	fake := newFakeBackend()
	fake.input[256] = 0xFE0C // -500 mbar
	fake.input[257] = 650
	fake.input[258] = 0xFFF6 // -10 mbar
	fake.input[266] = 0xFFFF // -1 mbar
	d := connectedDriver(t, fake)

	vacuum, err := d.VacuumChamber()
	require.NoError(t, err)
	require.Equal(t, -500, vacuum)

	pressure, err := d.PressureChamber()
	require.NoError(t, err)
	require.Equal(t, 650, pressure)

	output, err := d.OutputPressure()
	require.NoError(t, err)
	require.Equal(t, -10, output)

	external, err := d.ExternalSensor()
	require.NoError(t, err)
	require.Equal(t, -1, external)
}

func TestInternalSensorDataSnapshot(t *testing.T) {
	fake := newFakeBackend()
	fake.input[256] = 0xFE0C
	fake.input[257] = 650
	fake.input[258] = 0xFFF6
	d := connectedDriver(t, fake)
	fake.resetInputReads()

	snapshot, err := d.InternalSensorData()
	require.NoError(t, err)
	require.Len(t, snapshot, 3)

	// Exactly one multi-register read spanning the sensor block.
	require.Equal(t, []registerSpan{{address: 256, count: 3}}, fake.inputReads)

	vacuum, ok := snapshot.Value(registers.VacuumActual)
	require.True(t, ok)
	require.Equal(t, -500, vacuum)
	pressure, ok := snapshot.Value(registers.PressureActual)
	require.True(t, ok)
	require.Equal(t, 650, pressure)
	output, ok := snapshot.Value(registers.OutputPressureActual)
	require.True(t, ok)
	require.Equal(t, -10, output)

	_, ok = snapshot.Value(registers.ExternalSensor)
	require.False(t, ok)
}

func TestTogglePumpSkippedOnUnsupportedFirmware(t *testing.T) {
	fake := newFakeBackend()
	fake.input[259] = 2
	fake.input[260] = 1
	fake.input[261] = 3
	d := connectedDriver(t, fake)

	require.NoError(t, d.TogglePump(true))
	require.Empty(t, fake.writes)

	// Without a pump enable register there is no interlock to check.
	require.NoError(t, d.SetOutputPressure(100))
	require.Equal(t, []uint16{100}, fake.writtenValues(4099))
}

func TestToggleTriggerRequiresNewFirmware(t *testing.T) {
	fake := newFakeBackend()
	fake.input[259] = 2
	fake.input[260] = 0
	fake.input[261] = 45
	d := connectedDriver(t, fake)

	require.ErrorIs(t, d.ToggleTrigger(true), ErrUnsupported)
	require.Empty(t, fake.writes)
}

func TestToggleTriggerWrites(t *testing.T) {
	fake := newFakeBackend()
	d := connectedDriver(t, fake)

	require.NoError(t, d.ToggleTrigger(true))
	require.NoError(t, d.ToggleTrigger(false))
	require.Equal(t, []uint16{1, 0}, fake.writtenValues(4100))
}

func TestTriggerActuationValveSequence(t *testing.T) {
	fake := newFakeBackend()
	d := connectedDriver(t, fake)

	start := time.Now()
	require.NoError(t, d.TriggerActuationValve(context.Background(), 60*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)

	require.Equal(t, []registerWrite{
		{address: 4096, words: []uint16{60}},
		{address: 4100, words: []uint16{1}},
		{address: 4100, words: []uint16{0}},
	}, fake.writes)
}

func TestTriggerActuationValveRange(t *testing.T) {
	fake := newFakeBackend()
	d := connectedDriver(t, fake)

	var rangeErr *units.RangeError
	require.ErrorAs(t, d.TriggerActuationValve(context.Background(), 4*time.Millisecond), &rangeErr)
	require.ErrorAs(t, d.TriggerActuationValve(context.Background(), 65535*time.Millisecond), &rangeErr)
	require.Empty(t, fake.writes)
}

func TestTriggerActuationValveClearsOnCancel(t *testing.T) {
	fake := newFakeBackend()
	d := connectedDriver(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := d.TriggerActuationValve(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)

	// The valve is closed even though the hold was aborted.
	values := fake.writtenValues(4100)
	require.Equal(t, []uint16{1, 0}, values)
}

func TestTriggerActuationValveAutoClear(t *testing.T) {
	fake := newFakeBackend()
	d := connectedDriver(t, fake, WithAutoClearTrigger(true))

	require.NoError(t, d.TriggerActuationValve(context.Background(), 10*time.Millisecond))

	// Auto-clearing firmware closes the valve itself; no clear write.
	require.Equal(t, []registerWrite{
		{address: 4096, words: []uint16{10}},
		{address: 4100, words: []uint16{1}},
	}, fake.writes)
}

func TestWriteRejectsWidthMismatch(t *testing.T) {
	fake := newFakeBackend()
	d := connectedDriver(t, fake)

	entry, err := registers.Device().Lookup(registers.OutputPressure)
	require.NoError(t, err)

	d.mu.Lock()
	err = d.writeWordsLocked(entry, []uint16{1, 2})
	d.mu.Unlock()
	require.ErrorIs(t, err, remote.ErrValidation)
	require.Empty(t, fake.writes)
}

func TestWriteWaitsForBusyFlag(t *testing.T) {
	fake := newFakeBackend()
	fake.input[262] = statusBitBusy
	d := connectedDriver(t, fake, WithStatusPoll(time.Millisecond, 25*time.Millisecond))

	err := d.SetPressureChamber(500)
	require.ErrorIs(t, err, remote.ErrTimeout)
}

func TestStatusDecoding(t *testing.T) {
	fake := newFakeBackend()
	fake.input[262] = statusBitBusy | 1<<statusPumpShift | statusBitTrigger | statusBitValveOpen
	d := connectedDriver(t, fake)

	status, err := d.Status()
	require.NoError(t, err)
	require.True(t, status.Busy)
	require.Equal(t, PumpBuildingPressure, status.Pump)
	require.True(t, status.TriggerOpen)
	require.True(t, status.ExhaustValveOpen)
	require.False(t, status.VacuumBelowThreshold)
}

func TestWarningAndFaultDecoding(t *testing.T) {
	fake := newFakeBackend()
	fake.input[263] = 1<<0 | 1<<3
	fake.input[264] = 1<<1 | 1<<9
	fake.input[265] = 1
	d := connectedDriver(t, fake)

	warnings, err := d.Warnings()
	require.NoError(t, err)
	require.True(t, warnings.Any())
	require.True(t, warnings.VacuumThresholdUnreached)
	require.True(t, warnings.ExternalSensor)
	require.False(t, warnings.SupplyVoltage)

	faults, err := d.Faults()
	require.NoError(t, err)
	require.True(t, faults.Any())
	require.True(t, faults.PumpTimeout)
	require.True(t, faults.LowVoltage)
	require.False(t, faults.ModbusError)

	modbusFault, err := d.LastModbusFault()
	require.NoError(t, err)
	require.True(t, modbusFault.ActuationTimeRejected)
}

func TestNoFaultsNoWarnings(t *testing.T) {
	fake := newFakeBackend()
	d := connectedDriver(t, fake)

	warnings, err := d.Warnings()
	require.NoError(t, err)
	require.False(t, warnings.Any())

	faults, err := d.Faults()
	require.NoError(t, err)
	require.False(t, faults.Any())
}

func TestPrintDriverInformation(t *testing.T) {
	fake := newFakeBackend()
	d := connectedDriver(t, fake)

	var out bytes.Buffer
	require.NoError(t, d.PrintDriverInformation(&out))
	require.Contains(t, out.String(), "Driver Information:")
	require.Contains(t, out.String(), "* Firmware version: 3.0.10")
	require.Contains(t, out.String(), "* Transport: fake backend")
}

func TestCommandsAreSerialized(t *testing.T) {
	fake := newFakeBackend()
	fake.delay = 2 * time.Millisecond
	d := connectedDriver(t, fake)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.OutputPressure()
			_ = d.SetPressureChamber(500)
		}()
	}
	wg.Wait()

	require.False(t, fake.overlap, "register exchanges must not interleave")
}
