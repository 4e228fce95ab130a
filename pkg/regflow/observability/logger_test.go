package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), buf
}

func TestNilLoggerTolerated(t *testing.T) {
	// Every helper must be a no-op with a nil logger.
	LogSubmit(nil, 1, 2, 3)
	LogSubmitRejected(nil, 2, errors.New("x"))
	LogExecuted(nil, 1, 0, 1.0)
	LogDispatch(nil, 1, 2, 0, 0)
	LogCancelled(nil, 1)
	LogFlush(nil, 0)
	LogFlushResidue(nil, 1)
	LogCleanupError(nil, 1, 5)
	LogHistoryError(nil, 1, errors.New("x"))
	LogPeriodicStopped(nil, 1, 5)
	assert.Nil(t, EnrichLogger(nil, "c", "d"))
}

func TestEnrichLogger(t *testing.T) {
	logger, buf := captureLogger()
	enriched := EnrichLogger(logger, "client-7", "sensor0")
	enriched.InfoContext(context.Background(), "hello")

	out := buf.String()
	assert.Contains(t, out, "client_id=client-7")
	assert.Contains(t, out, "device=sensor0")
}

func TestLogExecutedLevels(t *testing.T) {
	logger, buf := captureLogger()

	LogExecuted(logger, 9, 0, 0.5)
	assert.Contains(t, buf.String(), "transaction completed")
	assert.Contains(t, buf.String(), "level=DEBUG")

	buf.Reset()
	LogExecuted(logger, 9, 110, 0.5)
	assert.Contains(t, buf.String(), "transaction failed")
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "error_code=110")
}

func TestLogDispatchFields(t *testing.T) {
	logger, buf := captureLogger()
	LogDispatch(logger, 7, 3, 2, 1)

	out := buf.String()
	assert.Contains(t, out, "event_id=7")
	assert.Contains(t, out, "counter=3")
	assert.Contains(t, out, "moved=2")
	assert.Contains(t, out, "inline=1")
}

func TestLogFlushResidueWarns(t *testing.T) {
	logger, buf := captureLogger()
	LogFlushResidue(logger, 2)

	assert.Contains(t, buf.String(), "level=WARN")
	assert.True(t, strings.Contains(buf.String(), "count=2"))
}
