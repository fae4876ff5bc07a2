package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lexitally/vocabstats/internal/logger"
)

// decodeLines parses every JSON line written to buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "line: %s", line)
		entries = append(entries, entry)
	}
	return entries
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	testCases := []struct {
		name     string
		level    logger.LogLevel
		expected []string
	}{
		{"trace emits everything", logger.LogLevelTrace, []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}},
		{"info hides debug and trace", logger.LogLevelInfo, []string{"INFO", "WARN", "ERROR"}},
		{"error only", logger.LogLevelError, []string{"ERROR"}},
		{"unknown defaults to info", logger.LogLevel("bogus"), []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			log := logger.NewSlogLogger(buf, tc.level, time.UTC)

			log.Trace("t")
			log.Debug("d")
			log.Info("i")
			log.Warn("w")
			log.Error("e")

			entries := decodeLines(t, buf)
			levels := make([]string, 0, len(entries))
			for _, e := range entries {
				levels = append(levels, e["level"].(string))
			}
			assert.Equal(t, tc.expected, levels)
		})
	}
}

func TestSlogLogger_ModuleAndFields(t *testing.T) {
	buf := &bytes.Buffer{}
	root := logger.NewSlogLogger(buf, logger.LogLevelDebug, time.UTC)

	jobLog := root.Module("migration").Module("legacy").With(logger.String("job", "legacy_status_migration"))
	jobLog.Info("batch written",
		logger.Int("batch", 3),
		logger.Int64("migrated", 10),
		logger.Bool("throttled", true),
		logger.Duration("elapsed", 1500*time.Millisecond),
		logger.Error(errors.New("boom")))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "batch written", entry["msg"])
	assert.Equal(t, "migration.legacy", entry["module"])
	assert.Equal(t, "legacy_status_migration", entry["job"])
	assert.InDelta(t, 3, entry["batch"], 0)
	assert.InDelta(t, 10, entry["migrated"], 0)
	assert.Equal(t, true, entry["throttled"])
	assert.Equal(t, "1.5s", entry["elapsed"])
	assert.Equal(t, "boom", entry["error"])
}

func TestSlogLogger_WithDoesNotLeakIntoParent(t *testing.T) {
	buf := &bytes.Buffer{}
	parent := logger.NewSlogLogger(buf, logger.LogLevelInfo, time.UTC)

	child := parent.With(logger.String("owner_id", "u1"))
	child.Info("child")
	parent.Info("parent")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "u1", entries[0]["owner_id"])
	assert.NotContains(t, entries[1], "owner_id")
}

func TestSlogLogger_WithContextTraceID(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.NewSlogLogger(buf, logger.LogLevelInfo, time.UTC)

	ctx := logger.WithTraceID(context.Background(), "abc-123")
	log.WithContext(ctx).Info("traced")
	log.WithContext(context.Background()).Info("untraced")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "abc-123", entries[0]["trace_id"])
	assert.NotContains(t, entries[1], "trace_id")
}

func TestErrorField_Nil(t *testing.T) {
	f := logger.Error(nil)
	assert.Equal(t, "error", f.Key)
	assert.Nil(t, f.Value)
}

func TestGormLoggerAdapter_Trace(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.NewSlogLogger(buf, logger.LogLevelTrace, time.UTC)
	adapter := logger.NewGormLoggerAdapter(log, 50*time.Millisecond)

	sqlFn := func() (string, int64) { return "SELECT 1", 1 }

	adapter.Trace(context.Background(), time.Now(), sqlFn, nil)
	adapter.Trace(context.Background(), time.Now().Add(-time.Second), sqlFn, nil)
	adapter.Trace(context.Background(), time.Now(), sqlFn, errors.New("disk I/O error"))
	adapter.Trace(context.Background(), time.Now(), sqlFn, gorm.ErrRecordNotFound)

	entries := decodeLines(t, buf)
	require.Len(t, entries, 4)
	assert.Equal(t, "sql query", entries[0]["msg"])
	assert.Equal(t, "TRACE", entries[0]["level"])
	assert.Equal(t, "slow query", entries[1]["msg"])
	assert.Equal(t, "WARN", entries[1]["level"])
	assert.Equal(t, "query error", entries[2]["msg"])
	assert.Equal(t, "sql query", entries[3]["msg"], "record not found is not an error")
}
