package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.viam.com/test"
)

type frameStats struct {
	Width  int
	Height int
	format string
}

func newBufferedLogger(buf *bytes.Buffer, level Level) Logger {
	logger := NewBlankLogger("camera")
	logger.SetLevel(level)
	logger.AddAppender(NewWriterAppender(buf))
	return logger
}

func splitLine(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	line, err := buf.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	return strings.Split(strings.TrimSuffix(line, "\n"), "\t")
}

func TestConsoleFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferedLogger(&buf, DEBUG)

	logger.Info("grab complete")
	parts := splitLine(t, &buf)
	test.That(t, parts, test.ShouldHaveLength, 5)
	test.That(t, parts[1], test.ShouldEqual, "INFO")
	test.That(t, parts[2], test.ShouldEqual, "camera")
	test.That(t, parts[3], test.ShouldContainSubstring, "logging/impl_test.go:")
	test.That(t, parts[4], test.ShouldEqual, "grab complete")

	logger.Debugw("frame", "stats", frameStats{Width: 640, Height: 480, format: "Mono8"}, "seq", 3)
	parts = splitLine(t, &buf)
	test.That(t, parts, test.ShouldHaveLength, 6)
	fields := map[string]any{}
	test.That(t, json.Unmarshal([]byte(parts[5]), &fields), test.ShouldBeNil)
	test.That(t, fields["seq"], test.ShouldEqual, 3.0)
	// Only public fields are serialized.
	test.That(t, fields["stats"], test.ShouldResemble, map[string]any{"Width": 640.0, "Height": 480.0})

	logger.Warnw("unpaired", "key")
	parts = splitLine(t, &buf)
	test.That(t, parts[5], test.ShouldContainSubstring, "unpaired log key")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferedLogger(&buf, WARN)

	logger.Debug("dropped")
	logger.Info("dropped")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.Warn("kept")
	test.That(t, splitLine(t, &buf)[4], test.ShouldEqual, "kept")

	ctx := EnableDebugMode(context.Background(), "")
	test.That(t, IsDebugMode(ctx), test.ShouldBeTrue)
	test.That(t, GetName(ctx), test.ShouldHaveLength, 8)
	logger.CDebugw(ctx, "forced")
	test.That(t, splitLine(t, &buf)[4], test.ShouldEqual, "forced")
	logger.CDebugw(context.Background(), "dropped")
	test.That(t, buf.Len(), test.ShouldEqual, 0)
}

func TestSubloggerAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferedLogger(&buf, INFO)

	sub := logger.Sublogger("left").WithFields("camera_name", "left")
	sub.Infow("opened", "ip", "192.168.1.10")
	parts := splitLine(t, &buf)
	test.That(t, parts[2], test.ShouldEqual, "camera.left")
	test.That(t, parts[5], test.ShouldEqual, `{"camera_name":"left","ip":"192.168.1.10"}`)

	// The parent is unaffected.
	logger.Infow("parent")
	test.That(t, splitLine(t, &buf), test.ShouldHaveLength, 5)
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.WithFields("side", "right").Errorw("grab failed", "attempt", 2)

	entries := logs.FilterMessage("grab failed").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].ContextMap()["side"], test.ShouldEqual, "right")
	test.That(t, entries[0].ContextMap()["attempt"], test.ShouldEqual, int64(2))
}

func TestLevelFromString(t *testing.T) {
	for in, expected := range map[string]Level{"DEBUG": DEBUG, "info": INFO, "Warning": WARN, "error": ERROR} {
		level, err := LevelFromString(in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, expected)
	}
	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldBeError)

	var level Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
}
