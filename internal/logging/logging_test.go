package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultLogDir_ContainsCodesearch(t *testing.T) {
	dir := DefaultLogDir()
	if !strings.Contains(dir, ".codesearch") || !strings.Contains(dir, "logs") {
		t.Errorf("DefaultLogDir should contain .codesearch/logs, got: %s", dir)
	}
}

func TestDefaultLogPath_EndsWithServerLog(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(path) != "server.log" {
		t.Errorf("DefaultLogPath should end with server.log, got: %s", path)
	}
}

func TestSetup_WritesJSONLinesToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Level:         "info",
		FilePath:      filepath.Join(dir, "test.log"),
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	logger.Info("hello", slog.String("k", "v"))

	data, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"msg":"hello"`)) {
		t.Errorf("log file missing expected message, got: %s", data)
	}
}

func TestParseLevel_RecognizesAllLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := LevelFromString(input); got != want {
			t.Errorf("LevelFromString(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestEnsureLogDir_CreatesDirectory(t *testing.T) {
	if err := EnsureLogDir(); err != nil {
		t.Fatalf("EnsureLogDir failed: %v", err)
	}
	if _, err := os.Stat(DefaultLogDir()); err != nil {
		t.Errorf("expected log dir to exist: %v", err)
	}
}
