/*
Package entry defines the register I/O operations that make up a transaction
and the response buffer they produce.

# Entries

An Entry is one operation in an ordered sequence: single-value writes and
reads, batched writes and reads, read-modify-write, offset biasing, and
bounded polling. Construct entries with the helper functions:

	seq := []entry.Entry{
	    entry.SetBias(0x1000),
	    entry.Write(0, 0x04, 0x1),         // writes bank 0, offset 0x1004
	    entry.Read(0, 0x08),               // reads bank 0, offset 0x1008
	    entry.Poll(0, 0x0c, 0x1, 0x1, 10*time.Millisecond),
	}

A SetBias entry replaces the running offset bias for all addressed entries
that follow it; biases do not accumulate across multiple SetBias entries.

# Responses

A Response is sized once, before the sequence is queued, from the read
entries alone: one IOResult per Read/ReadBatch, in entry order. The byte
layout produced by Encode mirrors the header the engine emits on its
success and error events, so both sides of the event transport agree on
framing without further negotiation.
*/
package entry
