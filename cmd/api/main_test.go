package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	events []string
	errs   []error
	tags   []map[string]string
}

func (r *recordingReporter) CaptureError(ctx context.Context, err error, tags map[string]string) {
	r.events = append(r.events, "capture")
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}

func (r *recordingReporter) Flush() {
	r.events = append(r.events, "flush")
}

func TestFatal_ReportsAndFlushesBeforeExit(t *testing.T) {
	var exitCode int
	var eventsAtExit []string
	reporter := &recordingReporter{}

	osExit = func(code int) {
		exitCode = code
		eventsAtExit = append([]string(nil), reporter.events...)
	}
	t.Cleanup(func() { osExit = os.Exit })

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	cause := errors.New("connection refused")

	fatal(logger, reporter, "failed to connect to database", cause)

	assert.Equal(t, 1, exitCode)
	assert.Equal(t, []string{"capture", "flush"}, eventsAtExit)
	require.Len(t, reporter.errs, 1)
	assert.ErrorIs(t, reporter.errs[0], cause)
	assert.Contains(t, reporter.errs[0].Error(), "failed to connect to database")
	assert.Equal(t, "startup", reporter.tags[0]["phase"])
	assert.Contains(t, buf.String(), "connection refused")
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range tests {
		assert.Equal(t, want, parseLogLevel(input), input)
	}
}
