package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func captureLogger(level LogLevel) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return New(level, buf), buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestLoggerJSONOutput(t *testing.T) {
	logger, buf := captureLogger(InfoLevel)
	logger.Info("optimization finished", map[string]interface{}{
		"best_f": 0.5,
		"evals":  42,
	})

	entry := lastEntry(t, buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "optimization finished", entry["message"])
	assert.Equal(t, 0.5, entry["best_f"])
	assert.Equal(t, 42.0, entry["evals"])
	assert.Contains(t, entry, "timestamp")
	assert.Contains(t, entry, "caller")
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := captureLogger(WarnLevel)

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.NotZero(t, buf.Len())
}

func TestLoggerWithFields(t *testing.T) {
	logger, buf := captureLogger(InfoLevel)
	logger = logger.WithFields(map[string]interface{}{"service": "quadra"})
	logger = logger.WithField("job", "opt_1")

	logger.Info("hello")
	entry := lastEntry(t, buf)
	assert.Equal(t, "quadra", entry["service"])
	assert.Equal(t, "opt_1", entry["job"])
}

func TestLoggerTextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(InfoLevel, buf)
	logger.format = FormatText

	logger.Info("plain message", map[string]interface{}{"k": "v"})
	line := buf.String()
	assert.Contains(t, line, "[INFO]")
	assert.Contains(t, line, "plain message")
	assert.False(t, json.Valid([]byte(strings.TrimSpace(line))))
}

func TestNewLoggerFormatValidation(t *testing.T) {
	_, err := NewLogger(&Config{Level: "info", Format: "xml", Output: "stderr"})
	assert.Error(t, err)

	logger, err := NewLogger(&Config{Level: "info", Format: "", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, logger.format)
}

func TestZapAdapterForwardsFields(t *testing.T) {
	logger, buf := captureLogger(DebugLevel)
	zl := NewZapLogger(logger).Named("trust_region")

	zl.Info("iteration done",
		zap.Int("iteration", 3),
		zap.Float64("radius", 0.8),
		zap.Float64s("center", []float64{1, 2}),
		zap.Bool("accepted", true),
	)

	entry := lastEntry(t, buf)
	assert.Equal(t, "iteration done", entry["message"])
	assert.Equal(t, 3.0, entry["iteration"])
	assert.Equal(t, 0.8, entry["radius"])
	assert.Equal(t, true, entry["accepted"])
	assert.Equal(t, "trust_region", entry["logger"])
	assert.Equal(t, []interface{}{1.0, 2.0}, entry["center"])
}

func TestZapAdapterLevelGate(t *testing.T) {
	logger, buf := captureLogger(ErrorLevel)
	zl := NewZapLogger(logger)

	zl.Debug("hidden")
	zl.Info("hidden")
	assert.Zero(t, buf.Len())

	zl.Error("shown")
	assert.NotZero(t, buf.Len())
}

func TestMiddlewareLogsRequests(t *testing.T) {
	logger, buf := captureLogger(InfoLevel)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(Middleware(logger))
	r.Get("/work", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/work", nil))
	assert.Contains(t, buf.String(), "Request completed")

	buf.Reset()
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	assert.Zero(t, buf.Len(), "health probes stay quiet")
}

func TestMiddlewareLogsFailures(t *testing.T) {
	logger, buf := captureLogger(InfoLevel)

	r := chi.NewRouter()
	r.Use(Middleware(logger))
	r.Get("/api/v1/status/{id}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/status/nope", nil))

	// Quiet paths still surface errors.
	assert.Contains(t, buf.String(), "Request failed")
}
