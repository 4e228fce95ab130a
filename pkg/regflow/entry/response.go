package entry

import (
	"encoding/binary"
	"fmt"
)

// Code is the numeric error code carried in a response header. Zero means
// success. Non-zero values follow errno conventions so userspace tooling
// written against the original driver keeps working.
type Code int32

// Response error codes.
const (
	CodeOK          Code = 0
	CodeIO          Code = 5   // register access failed
	CodeOutOfMemory Code = 12  // response or clone exceeded the buffer budget
	CodeInvalid     Code = 22  // unrecognized entry or bad argument
	CodeTimedOut    Code = 110 // poll exceeded its declared timeout
	CodeCancelled   Code = 125 // cancelled before execution
)

// String returns the code name.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeIO:
		return "io_error"
	case CodeOutOfMemory:
		return "out_of_memory"
	case CodeInvalid:
		return "invalid"
	case CodeTimedOut:
		return "timed_out"
	case CodeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("code(%d)", int32(c))
	}
}

// Wire layout sizes. The header is id, error code, result count, payload
// size and completion index; each result carries bank, offset and length
// ahead of its raw bytes. All fields are little-endian.
const (
	headerSize       = 8 + 4 + 4 + 4 + 4
	resultHeaderSize = 4 + 8 + 4
)

// IOResult is one read result in a response payload: the register bank and
// (biased) offset that were read, and the raw bytes returned by the device.
type IOResult struct {
	Bank   int32
	Offset uint64
	Data   []byte
}

// Response accumulates the outcome of one transaction execution. Its size
// is fixed when it is built and never changes afterwards: the result slots
// and their data buffers are allocated up front from the entry sequence.
type Response struct {
	// ID is the transaction id the response belongs to.
	ID int64

	// ErrorCode is zero on success, or the code of the failure that
	// stopped the sequence.
	ErrorCode Code

	// CompletionIndex is the index of the last entry that completed
	// successfully, or -1 if none did.
	CompletionIndex int32

	// Results holds one slot per Read/ReadBatch entry, in entry order.
	// Data buffers are pre-sized; the executor fills them in place.
	Results []IOResult

	resultsSize int32
	filled      int
}

// PayloadSize returns the total byte size of the result payload: one result
// header plus data bytes per read entry. Used for admission against the
// response buffer budget before a transaction is queued.
func PayloadSize(entries []Entry, widthBytes int) int {
	total := 0
	for _, e := range entries {
		if e.IsRead() {
			total += resultHeaderSize + e.ResultBytes(widthBytes)
		}
	}
	return total
}

// NewResponse builds a response for the given sequence, allocating every
// result slot and data buffer up front. It performs no I/O and never blocks,
// so it is safe to call while the client lock is held.
func NewResponse(id int64, entries []Entry, widthBytes int) *Response {
	r := &Response{ID: id, CompletionIndex: -1}
	for _, e := range entries {
		if !e.IsRead() {
			continue
		}
		r.Results = append(r.Results, IOResult{Data: make([]byte, e.ResultBytes(widthBytes))})
	}
	r.resultsSize = int32(PayloadSize(entries, widthBytes))
	return r
}

// CloneHeader returns a fresh response with the header copied from r and
// result slots re-allocated to the same shape, for repeating-transaction
// iterations. The clone shares nothing with the receiver.
func (r *Response) CloneHeader() *Response {
	c := &Response{
		ID:              r.ID,
		CompletionIndex: -1,
		resultsSize:     r.resultsSize,
	}
	if len(r.Results) > 0 {
		c.Results = make([]IOResult, len(r.Results))
		for i := range r.Results {
			c.Results[i].Data = make([]byte, len(r.Results[i].Data))
		}
	}
	return c
}

// NextResult returns the next unfilled result slot, recording the bank and
// biased offset it is about to hold. The executor calls this once per read
// entry, in entry order.
func (r *Response) NextResult(bank int32, offset uint64) *IOResult {
	res := &r.Results[r.filled]
	res.Bank = bank
	res.Offset = offset
	r.filled++
	return res
}

// Size returns the encoded byte size of the response, header included.
// The value is fixed at build time.
func (r *Response) Size() int {
	return headerSize + int(r.resultsSize)
}

// Reset returns the response to its just-built state. Used by cleanup
// routines that re-run a sequence after a prior attempt.
func (r *Response) Reset() {
	r.ErrorCode = CodeOK
	r.CompletionIndex = -1
	r.filled = 0
}

// Encode serializes the response into the wire layout carried by success
// and error events.
func (r *Response) Encode() []byte {
	buf := make([]byte, 0, r.Size())
	var scratch [8]byte

	put32 := func(v int32) {
		binary.LittleEndian.PutUint32(scratch[:4], uint32(v))
		buf = append(buf, scratch[:4]...)
	}

	binary.LittleEndian.PutUint64(scratch[:8], uint64(r.ID))
	buf = append(buf, scratch[:8]...)
	put32(int32(r.ErrorCode))
	put32(int32(len(r.Results)))
	put32(r.resultsSize)
	put32(r.CompletionIndex)

	for i := range r.Results {
		res := &r.Results[i]
		put32(res.Bank)
		binary.LittleEndian.PutUint64(scratch[:8], res.Offset)
		buf = append(buf, scratch[:8]...)
		put32(int32(len(res.Data)))
		buf = append(buf, res.Data...)
	}
	return buf
}

// Decode parses a response from its wire layout.
func Decode(data []byte) (*Response, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("response too short: %d bytes", len(data))
	}
	r := &Response{
		ID:              int64(binary.LittleEndian.Uint64(data[0:8])),
		ErrorCode:       Code(binary.LittleEndian.Uint32(data[8:12])),
		CompletionIndex: int32(binary.LittleEndian.Uint32(data[20:24])),
	}
	numResults := int32(binary.LittleEndian.Uint32(data[12:16]))
	r.resultsSize = int32(binary.LittleEndian.Uint32(data[16:20]))

	rest := data[headerSize:]
	for i := int32(0); i < numResults; i++ {
		if len(rest) < resultHeaderSize {
			return nil, fmt.Errorf("truncated result header at index %d", i)
		}
		res := IOResult{
			Bank:   int32(binary.LittleEndian.Uint32(rest[0:4])),
			Offset: binary.LittleEndian.Uint64(rest[4:12]),
		}
		n := int(binary.LittleEndian.Uint32(rest[12:16]))
		rest = rest[resultHeaderSize:]
		if len(rest) < n {
			return nil, fmt.Errorf("truncated result data at index %d", i)
		}
		res.Data = append([]byte(nil), rest[:n]...)
		rest = rest[n:]
		r.Results = append(r.Results, res)
	}
	r.filled = len(r.Results)
	return r, nil
}
