package registers

import "github.com/shopspring/decimal"

// Scale factors from the PGVA-1 operation manual. The chamber threshold
// registers do not store millibar directly; the device expects counts
// derived from these conversion factors.
var (
	scaleIdentity          = decimal.New(1, 0)
	scalePressureThreshold = decimal.New(1, 0).Div(decimal.RequireFromString("0.5543"))
	scaleVacuumThreshold   = decimal.New(1, 0).Div(decimal.RequireFromString("-0.277"))
)

var deviceMap = mustMap(
	// Input registers: sensor actuals form one contiguous block so a
	// snapshot is a single multi-register read.
	Entry{Tag: VacuumActual, Address: 256, Width: 1, Table: TableInput, Access: ReadOnly, Scale: scaleIdentity, Signed: true},
	Entry{Tag: PressureActual, Address: 257, Width: 1, Table: TableInput, Access: ReadOnly, Scale: scaleIdentity},
	Entry{Tag: OutputPressureActual, Address: 258, Width: 1, Table: TableInput, Access: ReadOnly, Scale: scaleIdentity, Signed: true},
	Entry{Tag: FirmwareVersion, Address: 259, Width: 1, Table: TableInput, Access: ReadOnly, Scale: scaleIdentity},
	Entry{Tag: FirmwareSubversion, Address: 260, Width: 1, Table: TableInput, Access: ReadOnly, Scale: scaleIdentity},
	Entry{Tag: FirmwareBuild, Address: 261, Width: 1, Table: TableInput, Access: ReadOnly, Scale: scaleIdentity},
	Entry{Tag: StatusWord, Address: 262, Width: 1, Table: TableInput, Access: ReadOnly, Scale: scaleIdentity},
	Entry{Tag: ErrorWord, Address: 263, Width: 1, Table: TableInput, Access: ReadOnly, Scale: scaleIdentity},
	Entry{Tag: WarningWord, Address: 264, Width: 1, Table: TableInput, Access: ReadOnly, Scale: scaleIdentity},
	Entry{Tag: LastModbusError, Address: 265, Width: 1, Table: TableInput, Access: ReadOnly, Scale: scaleIdentity},
	Entry{Tag: ExternalSensor, Address: 266, Width: 1, Table: TableInput, Access: ReadOnly, Scale: scaleIdentity, Signed: true},

	// Holding registers: setpoints and control.
	Entry{Tag: ValveActuationTime, Address: 4096, Width: 1, Table: TableHolding, Access: ReadWrite, Scale: scaleIdentity},
	Entry{Tag: VacuumThreshold, Address: 4097, Width: 1, Table: TableHolding, Access: ReadWrite, Scale: scaleVacuumThreshold},
	Entry{Tag: PressureThreshold, Address: 4098, Width: 1, Table: TableHolding, Access: ReadWrite, Scale: scalePressureThreshold},
	Entry{Tag: OutputPressure, Address: 4099, Width: 1, Table: TableHolding, Access: ReadWrite, Scale: scaleIdentity, Signed: true},
	Entry{Tag: ManualTrigger, Address: 4100, Width: 1, Table: TableHolding, Access: ReadWrite, Scale: scaleIdentity},
	Entry{Tag: PumpEnable, Address: 4101, Width: 1, Table: TableHolding, Access: ReadWrite, Scale: scaleIdentity},
)

func mustMap(entries ...Entry) *Map {
	m, err := newMap(entries...)
	if err != nil {
		panic(err)
	}
	return m
}

// Device returns the PGVA-1 register map.
func Device() *Map {
	return deviceMap
}
