package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogWriterTeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanner.log")
	var out bytes.Buffer

	w := logWriter(Config{File: FileConfig{Path: path, MaxSizeMB: 1}}, &out)
	logger := zerolog.New(w)
	logger.Info().Str("component", "test").Msg("hello")

	if !strings.Contains(out.String(), `"message":"hello"`) {
		t.Fatalf("stdout = %q", out.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"test"`) {
		t.Fatalf("file = %q", data)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	if got := NewLogger(Config{Level: "WARN"}).GetLevel(); got != zerolog.WarnLevel {
		t.Fatalf("level = %s", got)
	}
	if got := NewLogger(Config{Level: "nonsense"}).GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("fallback level = %s", got)
	}
}
