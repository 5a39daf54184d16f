package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender writes entries with tb.Log so that each line is attributed to the test that
// produced it, even with parallel tests.
type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender that logs to tb.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	line, err := formatEntry(entry, fields)
	tapp.tb.Log(line)
	return err
}

func (tapp *testAppender) Sync() error {
	return nil
}
