package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records for testing.
type testHandler struct {
	buf    *bytes.Buffer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	// Build a map from the record
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}

	// Add pre-configured attrs
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}

	// Add record attrs
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})

	// Encode as JSON
	enc := json.NewEncoder(h.buf)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return nil
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:    h.buf,
		level:  h.level,
		attrs:  make([]slog.Attr, len(h.attrs)+len(attrs)),
		groups: h.groups,
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(name string) slog.Handler {
	newH := &testHandler{
		buf:    h.buf,
		level:  h.level,
		attrs:  h.attrs,
		groups: append(h.groups, name),
	}
	return newH
}

func (h *testHandler) getLastRecord() map[string]any {
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if len(lines[i]) > 0 {
			var m map[string]any
			if err := json.Unmarshal(lines[i], &m); err == nil {
				return m
			}
		}
	}
	return nil
}

func (h *testHandler) getAllRecords() []map[string]any {
	var records []map[string]any
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for _, line := range lines {
		if len(line) > 0 {
			var m map[string]any
			if err := json.Unmarshal(line, &m); err == nil {
				records = append(records, m)
			}
		}
	}
	return records
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds run, context and equation", func(t *testing.T) {
		h := newTestHandler()
		logger := slog.New(h)

		enriched := EnrichLogger(logger, "run-123", "coop", "ve-1")
		enriched.Info("test message")

		record := h.getLastRecord()
		require.NotNil(t, record)
		assert.Equal(t, "run-123", record["run_id"])
		assert.Equal(t, "coop", record["context_agent"])
		assert.Equal(t, "ve-1", record["value_equation"])
		assert.Equal(t, "test message", record["msg"])
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "run-123", "coop", "ve-1"))
	})
}

func TestLogRunLifecycle(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogRunStart(logger, "run-1", "100.00")
	LogRunComplete(logger, "run-1", 12, 3, "100.00")
	LogRunError(logger, "run-2", errors.New("no payable account"), 4)

	records := h.getAllRecords()
	require.Len(t, records, 3)

	assert.Equal(t, "distribution run starting", records[0]["msg"])
	assert.Equal(t, "100.00", records[0]["amount"])

	assert.Equal(t, "distribution run completed", records[1]["msg"])
	assert.Equal(t, float64(3), records[1]["distribution_events"])

	assert.Equal(t, "ERROR", records[2]["level"])
	assert.Equal(t, "no payable account", records[2]["error"])
}

func TestLogDetailHelpers(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogBucket(logger, "b1", "60.00", "59.99", 4)
	record := h.getLastRecord()
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, "b1", record["bucket_id"])
	assert.Equal(t, float64(4), record["claims"])

	LogRollUp(logger, "r1", "10.00", 2)
	record = h.getLastRecord()
	assert.Equal(t, "10.00", record["value_per_unit"])

	LogBranchSkipped(logger, "event", "e9", errors.New("missing resource"))
	record = h.getLastRecord()
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "missing resource", record["error"])

	LogReconciliation(logger, "0.01", "alice")
	record = h.getLastRecord()
	assert.Equal(t, "0.01", record["delta"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogRunStart(nil, "r", "1")
		LogRunComplete(nil, "r", 1, 1, "1")
		LogRunError(nil, "r", errors.New("x"), 1)
		LogBucket(nil, "b", "1", "1", 1)
		LogRollUp(nil, "r", "1", 1)
		LogBranchSkipped(nil, "event", "e", nil)
		LogReconciliation(nil, "0", "a")
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	assert.GreaterOrEqual(t, done(), float64(0))
}
