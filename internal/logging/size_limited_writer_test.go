package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"stream-billing/internal/config"

	"github.com/rs/zerolog/log"
)

func TestRotatingWriterKeepsOneBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "billing.log")
	writer, err := newRotatingWriter(path, 1)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	defer writer.Close()

	chunk := make([]byte, 512*1024)
	for i := 0; i < 3; i++ {
		if _, err := writer.Write(chunk); err != nil {
			t.Fatalf("write chunk %d: %v", i, err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat log: %v", err)
	}
	if info.Size() > 1024*1024 {
		t.Fatalf("expected log <= 1MB, got %d", info.Size())
	}
	backup, err := os.Stat(path + ".1")
	if err != nil {
		t.Fatalf("stat backup: %v", err)
	}
	if backup.Size() != 1024*1024 {
		t.Fatalf("backup size = %d, want %d", backup.Size(), 1024*1024)
	}
}

func TestInitWritesToFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.log")
	Init(config.LogConfig{Level: "debug", File: path, MaxMB: 1})
	t.Cleanup(func() { Init(config.LogConfig{Level: "info"}) })

	log.Info().Str("component", "test").Msg("hello sink")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(b, []byte("hello sink")) {
		t.Fatalf("log file missing message: %q", b)
	}
}
