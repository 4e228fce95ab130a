package entry

import "time"

// Kind discriminates the operation an Entry performs.
type Kind uint8

// Entry kinds.
const (
	KindInvalid Kind = iota
	KindWrite
	KindRead
	KindWriteBatch
	KindReadBatch
	KindModify
	KindBias
	KindPoll
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindWrite:
		return "write"
	case KindRead:
		return "read"
	case KindWriteBatch:
		return "write_batch"
	case KindReadBatch:
		return "read_batch"
	case KindModify:
		return "modify"
	case KindBias:
		return "bias"
	case KindPoll:
		return "poll"
	default:
		return "invalid"
	}
}

// Entry is one register I/O operation in a transaction sequence.
// Fields are interpreted according to Kind; use the constructor
// functions rather than filling the struct directly.
type Entry struct {
	Kind Kind

	// Bank identifies the register bank the operation addresses.
	Bank int32

	// Offset is the register offset within the bank. The executor adds
	// the running bias before handing the entry to the device.
	Offset uint64

	// Value is the value to write (KindWrite, KindModify), the expected
	// value for KindPoll, or the value read back for KindRead.
	Value uint64

	// Mask selects the bits affected by KindModify and the bits compared
	// by KindPoll.
	Mask uint64

	// Buf is the data to write for KindWriteBatch. For KindReadBatch the
	// executor points it at the response slot so the device fills the
	// result buffer directly.
	Buf []byte

	// Size is the number of bytes a KindReadBatch transfers.
	Size uint32

	// Bias is the new running offset bias for KindBias.
	Bias uint64

	// Timeout bounds a KindPoll busy-wait.
	Timeout time.Duration
}

// Write returns an entry that writes value to one register.
func Write(bank int32, offset, value uint64) Entry {
	return Entry{Kind: KindWrite, Bank: bank, Offset: offset, Value: value}
}

// Read returns an entry that reads one register.
func Read(bank int32, offset uint64) Entry {
	return Entry{Kind: KindRead, Bank: bank, Offset: offset}
}

// WriteBatch returns an entry that writes len(buf) bytes starting at offset.
func WriteBatch(bank int32, offset uint64, buf []byte) Entry {
	return Entry{Kind: KindWriteBatch, Bank: bank, Offset: offset, Buf: buf}
}

// ReadBatch returns an entry that reads size bytes starting at offset.
func ReadBatch(bank int32, offset uint64, size uint32) Entry {
	return Entry{Kind: KindReadBatch, Bank: bank, Offset: offset, Size: size}
}

// Modify returns a read-modify-write entry: the bits selected by mask are
// replaced with the corresponding bits of value.
func Modify(bank int32, offset, value, mask uint64) Entry {
	return Entry{Kind: KindModify, Bank: bank, Offset: offset, Value: value, Mask: mask}
}

// SetBias returns an entry that replaces the running offset bias applied to
// subsequent addressed entries. The bias is not cumulative: a later SetBias
// discards the previous one.
func SetBias(bias uint64) Entry {
	return Entry{Kind: KindBias, Bias: bias}
}

// Poll returns an entry that repeatedly reads a register until
// (value & mask) == (expected & mask) or the timeout elapses.
func Poll(bank int32, offset, expected, mask uint64, timeout time.Duration) Entry {
	return Entry{Kind: KindPoll, Bank: bank, Offset: offset, Value: expected, Mask: mask, Timeout: timeout}
}

// Addressed reports whether the running bias applies to this entry kind.
func (e Entry) Addressed() bool {
	switch e.Kind {
	case KindWrite, KindRead, KindWriteBatch, KindReadBatch, KindModify:
		return true
	}
	return false
}

// Biased returns a copy of the entry with the running bias added to its
// offset. Non-addressed kinds are returned unchanged. The receiver is never
// mutated so a sequence shared between repeating iterations biases cleanly
// each run.
func (e Entry) Biased(bias uint64) Entry {
	if bias != 0 && e.Addressed() {
		e.Offset += bias
	}
	return e
}

// IsRead reports whether the entry produces an IOResult in the response.
func (e Entry) IsRead() bool {
	return e.Kind == KindRead || e.Kind == KindReadBatch
}

// ResultBytes returns the number of payload bytes the entry contributes to
// the response, given the device's native register width in bytes.
func (e Entry) ResultBytes(widthBytes int) int {
	switch e.Kind {
	case KindRead:
		return widthBytes
	case KindReadBatch:
		return int(e.Size)
	}
	return 0
}
