package regflow

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorlab/regflow/pkg/regflow/entry"
	"github.com/sensorlab/regflow/pkg/regflow/event"
	"github.com/sensorlab/regflow/pkg/regflow/history"
)

func TestExecuteStopsOnFirstError(t *testing.T) {
	c, mem, sink := newTestClient(t)

	mem.SetFault(func(e *entry.Entry) error {
		if e.Offset == 0x84 {
			return errors.New("bus fault")
		}
		return nil
	})

	_, err := c.Submit(context.Background(), immediate(
		entry.Write(testBank, 0x80, 0x1),
		entry.Write(testBank, 0x84, 0x2),
		entry.Write(testBank, 0x88, 0x3),
	))
	require.NoError(t, err)

	got := sink.waitFor(t, 1)
	assert.Equal(t, int64(101), got[0].EventID)
	resp, err := entry.Decode(got[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, entry.CodeIO, resp.ErrorCode)
	assert.Equal(t, int32(0), resp.CompletionIndex)

	v, _ := mem.Peek(testBank, 0x88, 4)
	assert.Zero(t, v, "entry after the failure was executed")
}

func TestReadResultsInEntryOrder(t *testing.T) {
	c, mem, sink := newTestClient(t)

	require.NoError(t, mem.Poke(testBank, 0x90, 0xAA, 4))
	require.NoError(t, mem.Poke(testBank, 0x94, 0xBB, 4))
	require.NoError(t, mem.Poke(testBank, 0x98, 0xCC, 4))

	_, err := c.Submit(context.Background(), immediate(
		entry.Read(testBank, 0x90),
		entry.Write(testBank, 0xA0, 0x1),
		entry.ReadBatch(testBank, 0x94, 8),
		entry.Read(testBank, 0x98),
	))
	require.NoError(t, err)

	got := sink.waitFor(t, 1)
	resp, err := entry.Decode(got[0].Payload)
	require.NoError(t, err)
	require.Equal(t, entry.CodeOK, resp.ErrorCode)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, uint64(0x90), resp.Results[0].Offset)
	assert.Equal(t, uint64(0xAA), uint64(binary.LittleEndian.Uint32(resp.Results[0].Data)))

	assert.Equal(t, uint64(0x94), resp.Results[1].Offset)
	require.Len(t, resp.Results[1].Data, 8)
	assert.Equal(t, uint64(0xBB), uint64(binary.LittleEndian.Uint32(resp.Results[1].Data[:4])))

	assert.Equal(t, uint64(0x98), resp.Results[2].Offset)
	assert.Equal(t, uint64(0xCC), uint64(binary.LittleEndian.Uint32(resp.Results[2].Data)))
}

func TestBiasDoesNotAccumulate(t *testing.T) {
	c, mem, sink := newTestClient(t)

	require.NoError(t, mem.Poke(testBank, 0x14, 0x11, 4))
	require.NoError(t, mem.Poke(testBank, 0x24, 0x22, 4))

	_, err := c.Submit(context.Background(), immediate(
		entry.SetBias(0x10),
		entry.Read(testBank, 0x4),
	))
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), immediate(
		entry.SetBias(0x20),
		entry.Read(testBank, 0x4),
	))
	require.NoError(t, err)

	got := sink.waitFor(t, 2)
	for i, want := range []struct {
		offset uint64
		value  uint64
	}{{0x14, 0x11}, {0x24, 0x22}} {
		resp, err := entry.Decode(got[i].Payload)
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, want.offset, resp.Results[0].Offset, "bias misapplied")
		assert.Equal(t, want.value, uint64(binary.LittleEndian.Uint32(resp.Results[0].Data)))
	}
}

func TestBiasResetsPerIteration(t *testing.T) {
	c, mem, sink := newTestClient(t)

	require.NoError(t, mem.Poke(testBank, 0x14, 0x33, 4))

	_, err := c.Submit(context.Background(), &Transaction{
		Trigger:        TriggerSpec{EventID: 7, Counter: event.EveryTime},
		SuccessEventID: 100,
		ErrorEventID:   101,
		Entries: []entry.Entry{
			entry.SetBias(0x10),
			entry.Read(testBank, 0x4),
		},
	})
	require.NoError(t, err)

	c.EventTrigger(7, 1, false)
	c.EventTrigger(7, 2, false)

	got := sink.waitFor(t, 2)
	for i := range got {
		resp, err := entry.Decode(got[i].Payload)
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, uint64(0x14), resp.Results[0].Offset, "bias leaked across iterations")
	}
}

func TestPollSucceedsWhenValueAppears(t *testing.T) {
	c, mem, sink := newTestClient(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(20 * time.Millisecond)
		_ = mem.Poke(testBank, 0xB0, 0x1, 4)
	}()

	_, err := c.Submit(context.Background(), immediate(
		entry.Poll(testBank, 0xB0, 0x1, 0x1, time.Second),
		entry.Write(testBank, 0xB4, 0x9),
	))
	require.NoError(t, err)

	got := sink.waitFor(t, 1)
	resp, err := entry.Decode(got[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, entry.CodeOK, resp.ErrorCode)
	assert.Equal(t, int32(1), resp.CompletionIndex)

	v, _ := mem.Peek(testBank, 0xB4, 4)
	assert.Equal(t, uint64(0x9), v)
	<-done
}

func TestPollTimesOut(t *testing.T) {
	c, _, sink := newTestClient(t)

	_, err := c.Submit(context.Background(), immediate(
		entry.Write(testBank, 0xB8, 0x1),
		entry.Poll(testBank, 0xBC, 0x1, 0x1, 30*time.Millisecond),
	))
	require.NoError(t, err)

	got := sink.waitFor(t, 1)
	assert.Equal(t, int64(101), got[0].EventID)
	resp, err := entry.Decode(got[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, entry.CodeTimedOut, resp.ErrorCode)
	assert.Equal(t, int32(0), resp.CompletionIndex)
}

func TestModifyEntry(t *testing.T) {
	c, mem, sink := newTestClient(t)

	require.NoError(t, mem.Poke(testBank, 0xC0, 0xFF00, 4))

	_, err := c.Submit(context.Background(), immediate(
		entry.Modify(testBank, 0xC0, 0x00AB, 0x00FF),
	))
	require.NoError(t, err)

	sink.waitFor(t, 1)
	v, err := mem.Peek(testBank, 0xC0, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFFAB), v)
}

func TestHistoryRecordsOutcomes(t *testing.T) {
	hist := history.NewRing(8)
	c, _, sink := newTestClient(t, WithHistory(hist))

	okID, err := c.Submit(context.Background(), immediate(entry.Write(testBank, 0xD0, 0x1)))
	require.NoError(t, err)
	sink.waitFor(t, 1)

	badID, err := c.Submit(context.Background(), immediate(
		entry.Poll(testBank, 0xD4, 0x1, 0x1, 10*time.Millisecond),
	))
	require.NoError(t, err)
	sink.waitFor(t, 2)

	recs, err := hist.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, badID, recs[0].TransactionID)
	assert.Equal(t, entry.CodeTimedOut, recs[0].ErrorCode)
	assert.Equal(t, okID, recs[1].TransactionID)
	assert.Equal(t, entry.CodeOK, recs[1].ErrorCode)
	assert.False(t, recs[0].CompletedAt.Before(recs[0].SubmittedAt))
}

func TestInvalidEntryKind(t *testing.T) {
	c, _, sink := newTestClient(t)

	_, err := c.Submit(context.Background(), immediate(entry.Entry{Kind: entry.KindInvalid}))
	require.NoError(t, err)

	got := sink.waitFor(t, 1)
	assert.Equal(t, int64(101), got[0].EventID)
	resp, err := entry.Decode(got[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, entry.CodeInvalid, resp.ErrorCode)
	assert.Equal(t, int32(-1), resp.CompletionIndex)
}
