package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(WarnLevel, &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown", map[string]interface{}{"k": 1})
	logger.Error("shown too")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "shown", entries[0]["message"])
	assert.Equal(t, float64(1), entries[0]["k"])
	assert.Contains(t, entries[0]["caller"], "logging/logger_test.go")
	assert.Equal(t, "ERROR", entries[1]["level"])
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(DebugLevel, &buf)
	child := base.WithField("job", "abc").WithFields(map[string]interface{}{"n": 2})

	child.Info("started")
	base.Info("plain")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "abc", entries[0]["job"])
	assert.Equal(t, float64(2), entries[0]["n"])
	assert.NotContains(t, entries[1], "job")
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(InfoLevel, &buf).WithFormat(TextFormat).Info("done", map[string]interface{}{"b": 2, "a": 1})

	line := buf.String()
	assert.Contains(t, line, "INFO  done")
	assert.Less(t, strings.Index(line, "a=1"), strings.Index(line, "b=2"))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"debug":   DebugLevel,
		"":        InfoLevel,
		"Warning": WarnLevel,
		"ERROR":   ErrorLevel,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, logger.Level())

	_, err = NewLogger(&Config{Level: "info", Format: "yaml"})
	assert.Error(t, err)

	_, err = NewLogger(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestZapLogger(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZapLogger(New(InfoLevel, &buf)).Named("lbfgsb").With(zap.String("optimizer", "L_BFGS_B"))

	zl.Debug("hidden")
	zl.Info("iteration",
		zap.Int("iteration", 3),
		zap.Float64("f", 0.25),
		zap.Bool("bounded", true),
		zap.Float64s("x", []float64{0.5, 2}),
	)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "iteration", e["message"])
	assert.Equal(t, "lbfgsb", e["logger"])
	assert.Equal(t, "L_BFGS_B", e["optimizer"])
	assert.Equal(t, float64(3), e["iteration"])
	assert.Equal(t, 0.25, e["f"])
	assert.Equal(t, true, e["bounded"])
	assert.Equal(t, []interface{}{0.5, 2.0}, e["x"])
	assert.Contains(t, e["caller"], "logging/logger_test.go")
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(DebugLevel, &buf)

	var fromCtx *CtxLogger
	h := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status/x", nil))

	require.NotNil(t, fromCtx)
	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "request started", entries[0]["message"])
	assert.Equal(t, "request completed", entries[1]["message"])
	assert.Equal(t, "INFO", entries[1]["level"])
	assert.Equal(t, "I'm a teapot", entries[1]["error"])
	assert.Equal(t, float64(http.StatusTeapot), entries[1]["status"])
	assert.Equal(t, "/api/v1/status/x", entries[1]["path"])
}

func TestFromContextDefault(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)

	var buf bytes.Buffer
	ctx := (&CtxLogger{New(InfoLevel, &buf)}).WithContext(context.Background())
	FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), "hello")
}
