package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct {
	entries []string
	fields  []map[string]any
}

func (l *testLogger) record(level string, f map[string]any, msg string) {
	l.entries = append(l.entries, level+":"+msg)
	l.fields = append(l.fields, f)
}

func (l *testLogger) Info(f map[string]any, msg string)  { l.record("INFO", f, msg) }
func (l *testLogger) Error(f map[string]any, msg string) { l.record("ERROR", f, msg) }
func (l *testLogger) Debug(f map[string]any, msg string) { l.record("DEBUG", f, msg) }
func (l *testLogger) Warn(f map[string]any, msg string)  { l.record("WARN", f, msg) }
func (l *testLogger) Panic(f map[string]any, msg string) { l.record("PANIC", f, msg) }
func (l *testLogger) Fatal(f map[string]any, msg string) { l.record("FATAL", f, msg) }

func TestActualZapLogger(t *testing.T) {
	Debug(map[string]any{"key1": "value1", "key2": 42}, "test debug")
	Info(nil, "test info")
	Warn(map[string]any{"error": assert.AnError}, "test warn")
	Error(nil, "test error")
	assert.Panics(t, func() { Panic(nil, "test panic") })
}

func TestSetLoggerAndGlobalLogging(t *testing.T) {
	orig := GetLogger()
	defer SetLogger(orig)

	tlog := &testLogger{}
	SetLogger(tlog)

	Info(nil, "info msg")
	Error(nil, "error msg")
	Debug(nil, "debug msg")
	Warn(nil, "warn msg")
	Panic(nil, "panic msg")
	Fatal(nil, "fatal msg")

	assert.Equal(t, []string{
		"INFO:info msg",
		"ERROR:error msg",
		"DEBUG:debug msg",
		"WARN:warn msg",
		"PANIC:panic msg",
		"FATAL:fatal msg",
	}, tlog.entries)
}

func TestConfigure(t *testing.T) {
	orig := GetLogger()
	defer SetLogger(orig)

	require.NoError(t, Configure("dev", "debug"))
	require.NoError(t, Configure("prod", "WARN"))
	err := Configure("prod", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestOrGlobal(t *testing.T) {
	tlog := &testLogger{}
	assert.Same(t, tlog, OrGlobal(tlog))
	assert.Equal(t, GetLogger(), OrGlobal(nil))
}

func TestWith_MergesFields(t *testing.T) {
	tlog := &testLogger{}
	l := With(tlog, map[string]any{"component": "classifier", "gen": 1})

	l.Info(map[string]any{"gen": 2, "host": "example.com"}, "hello")
	l.Debug(nil, "bare")

	require.Len(t, tlog.fields, 2)
	assert.Equal(t, map[string]any{"component": "classifier", "gen": 2, "host": "example.com"}, tlog.fields[0])
	assert.Equal(t, map[string]any{"component": "classifier", "gen": 1}, tlog.fields[1])

	assert.Same(t, tlog, With(tlog, nil), "empty base should return the logger unchanged")
}

func TestNoopLogger(t *testing.T) {
	l := NewNoopLogger()
	assert.NotPanics(t, func() {
		l.Info(nil, "x")
		l.Error(nil, "x")
		l.Debug(nil, "x")
		l.Warn(nil, "x")
		l.Panic(nil, "x")
		l.Fatal(nil, "x")
	})
}
