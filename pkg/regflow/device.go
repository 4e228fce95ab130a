package regflow

import (
	"sync/atomic"

	"github.com/sensorlab/regflow/pkg/regflow/entry"
	"github.com/sensorlab/regflow/pkg/regflow/event"
)

// BusClass describes whether a device's bus can complete register
// transfers without blocking. The dispatcher consults it before executing
// a transaction inline in event-delivery context.
type BusClass int

const (
	// BusInline marks buses whose transfers complete without blocking
	// (memory-mapped register files). Inline execution in event context
	// is permitted.
	BusInline BusClass = iota

	// BusDeferred marks buses that require blocking transfers (serial
	// control buses). Transactions always run on the worker.
	BusDeferred
)

// String returns the bus class name.
func (b BusClass) String() string {
	switch b {
	case BusInline:
		return "inline"
	case BusDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// RegisterIO is the register-access capability the engine executes entries
// against. Implementations perform one physical Write, Read, WriteBatch,
// ReadBatch or Modify; the engine never touches hardware itself.
//
// Read entries must store the value read into e.Value; batched reads must
// fill e.Buf. inIRQ is true when the call happens in interrupt-like
// context and the implementation must not block.
type RegisterIO interface {
	RegisterIO(e *entry.Entry, inIRQ bool, widthBits int) error
}

// Device models the hardware a client operates on: its bus class, native
// register width, enable state, device-scope event counters, and the
// register-access capability.
type Device struct {
	// Name identifies the device in logs.
	Name string

	// Bus is the device's bus class.
	Bus BusClass

	// WidthBits is the native register value width in bits.
	WidthBits int

	// IO is the register-access capability.
	IO RegisterIO

	enabled  atomic.Bool
	counters *event.CounterTable
}

// NewDevice creates a device. It starts enabled.
func NewDevice(name string, bus BusClass, widthBits int, io RegisterIO) *Device {
	d := &Device{
		Name:      name,
		Bus:       bus,
		WidthBits: widthBits,
		IO:        io,
		counters:  event.NewCounterTable(),
	}
	d.enabled.Store(true)
	return d
}

// Counters returns the device-scope event counter table.
func (d *Device) Counters() *event.CounterTable {
	return d.counters
}

// Enable marks the device enabled.
func (d *Device) Enable() {
	d.enabled.Store(true)
}

// Disable marks the device disabled. Cleanup-bucket transactions are
// cancelled instead of executed while the device is disabled.
func (d *Device) Disable() {
	d.enabled.Store(false)
}

// Enabled reports the enable state.
func (d *Device) Enabled() bool {
	return d.enabled.Load()
}

func (d *Device) widthBytes() int {
	return d.WidthBits / 8
}
