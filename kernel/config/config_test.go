package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	board, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if board != DefaultBoard() {
		t.Fatal("expected defaults when the descriptor is absent")
	}
}

func TestLoadOverridesPartialFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yml")
	content := "memory:\n  physical_size: 2147483648\nscheduler:\n  timer_frequency_hz: 1000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	board, kerr := Load(path)
	if kerr != nil {
		t.Fatalf("unexpected error: %v", kerr)
	}
	if board.Memory.PhysicalSize != 2<<30 {
		t.Fatalf("expected overridden physical size, got %d", board.Memory.PhysicalSize)
	}
	if board.Scheduler.TimerFrequencyHz != 1000 {
		t.Fatalf("expected overridden timer frequency, got %d", board.Scheduler.TimerFrequencyHz)
	}
	if board.Memory.BlockSize != DefaultBoard().Memory.BlockSize {
		t.Fatal("expected unset fields to retain their default values")
	}
}

func TestLoadRejectsOversizedDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.yml")
	data := make([]byte, maxConfigSize+1)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, kerr := Load(path)
	if kerr != ErrConfigTooLarge {
		t.Fatalf("expected ErrConfigTooLarge, got %v", kerr)
	}
}
