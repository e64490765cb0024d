package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func captureJSON(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return WithLogger(context.Background(), logger), &buf
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("Unmarshal(%q) error = %v", buf.String(), err)
	}
	return record
}

func TestWithRequestIDTagsRecords(t *testing.T) {
	ctx, buf := captureJSON(t)
	ctx = WithRequestID(ctx, "host/abc-000001")
	ctx = WithAttrs(ctx, slog.String("component", "transport.httpapi"))

	Info(ctx, "request served", slog.Int("status", 200))

	record := decodeRecord(t, buf)
	if record["request_id"] != "host/abc-000001" {
		t.Fatalf("request_id = %v", record["request_id"])
	}
	if record["component"] != "transport.httpapi" || record["status"] != float64(200) {
		t.Fatalf("record = %v", record)
	}
}

func TestWithRequestIDIgnoresEmptyID(t *testing.T) {
	ctx, buf := captureJSON(t)
	Warn(WithRequestID(ctx, ""), "no id")

	if _, ok := decodeRecord(t, buf)["request_id"]; ok {
		t.Fatalf("record carries an empty request_id: %s", buf.String())
	}
}

func TestWithAttrsOverridesKeyWithoutTouchingParent(t *testing.T) {
	ctx, buf := captureJSON(t)
	parent := WithAttrs(ctx, slog.String("command", "sync now"), slog.String("app", "fleetinspect"))
	child := WithAttrs(parent, slog.String("command", "sync pull"))

	Info(child, "child")
	if got := decodeRecord(t, buf)["command"]; got != "sync pull" {
		t.Fatalf("child command = %v", got)
	}

	buf.Reset()
	Info(parent, "parent", slog.String("app", "override"))
	record := decodeRecord(t, buf)
	if record["command"] != "sync now" || record["app"] != "override" {
		t.Fatalf("parent record = %v", record)
	}
}

func TestLevelBelowThresholdIsDropped(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx := WithLogger(context.Background(), logger)

	Info(ctx, "quiet")
	Warn(ctx, "quiet")
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}
	Error(ctx, "loud")
	if decodeRecord(t, &buf)["msg"] != "loud" {
		t.Fatalf("record = %s", buf.String())
	}
}
