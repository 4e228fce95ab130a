// Package mmio provides an in-memory register bank that satisfies the
// engine's register-access capability, for tests and examples. The physical
// equivalent lives in a bus-specific driver outside this module.
package mmio

import (
	"fmt"
	"sync"

	"github.com/sensorlab/regflow/pkg/regflow/entry"
)

// Fault inspects an entry before it is applied and may fail it, for
// error-injection in tests. Return nil to let the operation proceed.
type Fault func(e *entry.Entry) error

// Mem is a set of byte-addressed register banks. Multi-byte register values
// are stored little-endian. Safe for concurrent use, including pokes from a
// test goroutine racing a polling executor.
type Mem struct {
	mu    sync.Mutex
	banks map[int32][]byte
	fault Fault
}

// New returns a Mem with no banks. Add banks before use.
func New() *Mem {
	return &Mem{banks: make(map[int32][]byte)}
}

// AddBank creates bank id with the given byte size.
func (m *Mem) AddBank(id int32, size int) *Mem {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banks[id] = make([]byte, size)
	return m
}

// SetFault installs a fault hook applied to every subsequent operation.
// Pass nil to clear.
func (m *Mem) SetFault(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

func (m *Mem) window(bank int32, offset uint64, n int) ([]byte, error) {
	b, ok := m.banks[bank]
	if !ok {
		return nil, fmt.Errorf("unknown register bank %d", bank)
	}
	if offset+uint64(n) > uint64(len(b)) {
		return nil, fmt.Errorf("offset 0x%x+%d out of range for bank %d (%d bytes)", offset, n, bank, len(b))
	}
	return b[offset : offset+uint64(n)], nil
}

func getUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putUint(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v)
		v >>= 8
	}
}

// RegisterIO applies one entry to the in-memory banks. Read entries write
// the value back into e.Value; batched reads fill e.Buf in place.
func (m *Mem) RegisterIO(e *entry.Entry, _ bool, widthBits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fault != nil {
		if err := m.fault(e); err != nil {
			return err
		}
	}

	widthBytes := widthBits / 8

	switch e.Kind {
	case entry.KindWrite:
		w, err := m.window(e.Bank, e.Offset, widthBytes)
		if err != nil {
			return err
		}
		putUint(w, e.Value)
	case entry.KindRead:
		w, err := m.window(e.Bank, e.Offset, widthBytes)
		if err != nil {
			return err
		}
		e.Value = getUint(w)
	case entry.KindWriteBatch:
		w, err := m.window(e.Bank, e.Offset, len(e.Buf))
		if err != nil {
			return err
		}
		copy(w, e.Buf)
	case entry.KindReadBatch:
		w, err := m.window(e.Bank, e.Offset, len(e.Buf))
		if err != nil {
			return err
		}
		copy(e.Buf, w)
	case entry.KindModify:
		w, err := m.window(e.Bank, e.Offset, widthBytes)
		if err != nil {
			return err
		}
		old := getUint(w)
		putUint(w, (old&^e.Mask)|(e.Value&e.Mask))
	default:
		return fmt.Errorf("entry kind %s is not a register operation", e.Kind)
	}
	return nil
}

// Poke writes value at the given location, bypassing the fault hook.
// Intended for tests that simulate hardware-side register changes.
func (m *Mem) Poke(bank int32, offset uint64, value uint64, widthBytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.window(bank, offset, widthBytes)
	if err != nil {
		return err
	}
	putUint(w, value)
	return nil
}

// Peek reads value at the given location, bypassing the fault hook.
func (m *Mem) Peek(bank int32, offset uint64, widthBytes int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.window(bank, offset, widthBytes)
	if err != nil {
		return 0, err
	}
	return getUint(w), nil
}

var _ interface {
	RegisterIO(e *entry.Entry, inIRQ bool, widthBits int) error
} = (*Mem)(nil)
