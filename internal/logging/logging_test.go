package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestForTagsComponent(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if err := Setup(&buf, "info"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	For("crawler.harvest").Debug("hidden")
	For("crawler.harvest").Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record written at info level: %s", out)
	}
	if !strings.Contains(out, "logger=rccrawler.crawler.harvest") {
		t.Fatalf("missing component name: %s", out)
	}
}
