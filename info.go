package pgva

import (
	"fmt"
	"io"
)

// Version identifies the driver release.
const Version = "1.0.0"

// Info reports the static driver identity and the configured transport.
type Info struct {
	DriverVersion string
	Firmware      string
	Transport     string
}

// Info returns the driver identity. The firmware triple is known once the
// driver has connected.
func (d *Driver) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Info{
		DriverVersion: Version,
		Firmware:      d.firmwareStringLocked(),
		Transport:     d.backend.Describe(),
	}
}

// PrintDriverInformation writes the driver identity and transport
// configuration to w. Read-only; it issues no device exchanges.
func (d *Driver) PrintDriverInformation(w io.Writer) error {
	info := d.Info()
	_, err := fmt.Fprintf(w,
		"Driver Information:\n* Driver version: %s\n* Firmware version: %s\n* Transport: %s\n",
		info.DriverVersion, info.Firmware, info.Transport)
	return err
}
