package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level LogLevel) (*ZapLogger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	log, err := NewZapLogger(Config{Level: level, Format: JSONFormat, Output: buf})
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}
	return log, buf
}

func decodeEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewZapLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"json debug", Config{Level: DebugLevel, Format: JSONFormat}, false},
		{"text info", Config{Level: InfoLevel, Format: TextFormat}, false},
		{"empty format defaults to json", Config{Level: WarnLevel}, false},
		{"unknown level falls back to info", Config{Level: "loud", Format: JSONFormat}, false},
		{"unknown format", Config{Level: InfoLevel, Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := NewZapLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewZapLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && log == nil {
				t.Fatal("NewZapLogger() returned nil logger")
			}
		})
	}
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	log, buf := newBufferLogger(t, WarnLevel)

	log.Debug("rows resolved")
	log.Info("destination written")
	log.Warn("slow query")
	log.Error("query failed")

	entries := decodeEntries(t, buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at warn level, got %d", len(entries))
	}
	if entries[0]["message"] != "slow query" || entries[1]["level"] != "error" {
		t.Errorf("unexpected entries: %v", entries)
	}
}

func TestZapLogger_WithAddsFields(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	child := log.With("source", "services")
	child.Info("query executed", "rows", 4)
	log.Info("plain")

	entries := decodeEntries(t, buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["source"] != "services" || entries[0]["rows"] != float64(4) {
		t.Errorf("child entry missing fields: %v", entries[0])
	}
	if _, ok := entries[1]["source"]; ok {
		t.Errorf("parent logger must not inherit child fields: %v", entries[1])
	}
}

func TestZapLogger_WithContextQueryID(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	ctx := ContextWithQueryID(context.Background(), "q-123")
	log.WithContext(ctx).Info("with id")
	log.WithContext(context.Background()).Info("without id")

	entries := decodeEntries(t, buf)
	if entries[0]["query_id"] != "q-123" {
		t.Errorf("query_id = %v, want q-123", entries[0]["query_id"])
	}
	if _, ok := entries[1]["query_id"]; ok {
		t.Errorf("unexpected query_id in %v", entries[1])
	}
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Info("ignored", "k", "v")
	if log.With("a", 1).WithContext(context.Background()) == nil {
		t.Fatal("nop logger children must not be nil")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{"debug": DebugLevel, "info": InfoLevel, "warning": WarnLevel, "error": ErrorLevel}
	for in, want := range cases {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLogLevel("trace"); err == nil {
		t.Error("ParseLogLevel(trace) expected error")
	}
}

func TestParseLogFormat(t *testing.T) {
	if f, err := ParseLogFormat("console"); err != nil || f != TextFormat {
		t.Errorf("ParseLogFormat(console) = %v, %v", f, err)
	}
	if _, err := ParseLogFormat("xml"); err == nil {
		t.Error("ParseLogFormat(xml) expected error")
	}
}
