package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestContextWithTaskID(t *testing.T) {
	tests := []struct {
		name   string
		ctx    context.Context
		taskID string
		want   string
	}{
		{name: "nil context", ctx: nil, taskID: "task-123", want: "task-123"},
		{name: "background context", ctx: context.Background(), taskID: "task-456", want: "task-456"},
		{name: "empty task ID", ctx: context.Background(), taskID: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithTaskID(tt.ctx, tt.taskID)
			if got := TaskIDFromContext(ctx); got != tt.want {
				t.Errorf("TaskIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContextWithSessionID(t *testing.T) {
	ctx := ContextWithSessionID(context.Background(), "sess-1")
	if got := SessionIDFromContext(ctx); got != "sess-1" {
		t.Errorf("SessionIDFromContext() = %v, want sess-1", got)
	}
	if got := SessionIDFromContext(context.Background()); got != "" {
		t.Errorf("SessionIDFromContext() on bare context = %v, want empty", got)
	}
}

func TestFromContextEmitsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Service: "bilidl-test"})

	ctx := ContextWithTaskID(context.Background(), "task-9")
	ctx = ContextWithSessionID(ctx, "sess-9")
	logger := FromContext(ctx)
	logger.Info().Msg("correlated")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["task_id"] != "task-9" {
		t.Errorf("task_id = %v, want task-9", entry["task_id"])
	}
	if entry["session_id"] != "sess-9" {
		t.Errorf("session_id = %v, want sess-9", entry["session_id"])
	}
	if entry["service"] != "bilidl-test" {
		t.Errorf("service = %v, want bilidl-test", entry["service"])
	}
}

func TestFromContextWithoutFieldsReturnsBase(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})

	logger := FromContext(context.Background())
	logger.Info().Msg("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if _, ok := entry["task_id"]; ok {
		t.Error("unexpected task_id on uncorrelated log line")
	}
	if _, ok := entry["session_id"]; ok {
		t.Error("unexpected session_id on uncorrelated log line")
	}
}
