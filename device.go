package ocl

import (
	"github.com/math-rock/ocl/driver"
)

// Device wraps a driver device for use with this package.
type Device struct {
	dd driver.Device
}

// NewDevice wraps dd. The emu package provides a complete in-process driver;
// vendor packages provide hardware-backed ones.
func NewDevice(dd driver.Device) *Device {
	return &Device{dd: dd}
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.dd.Name()
}

// GlobalMemSize returns the device memory capacity in bytes.
func (d *Device) GlobalMemSize() uint64 {
	return d.dd.GlobalMemSize()
}

// Driver returns the underlying driver device.
func (d *Device) Driver() driver.Device {
	return d.dd
}

// Close releases the device and everything it owns. It is idempotent.
func (d *Device) Close() error {
	return d.dd.Close()
}
