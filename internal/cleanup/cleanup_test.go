package cleanup

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/test/workspace")

	if cfg.WorkspaceDir != "/test/workspace" {
		t.Errorf("WorkspaceDir = %q, want %q", cfg.WorkspaceDir, "/test/workspace")
	}
	if cfg.Interval != 5*time.Minute {
		t.Errorf("Interval = %v, want %v", cfg.Interval, 5*time.Minute)
	}
	if cfg.OutputRetention != 1*time.Hour {
		t.Errorf("OutputRetention = %v, want %v", cfg.OutputRetention, 1*time.Hour)
	}
	if cfg.DiskWarnPercent != 80.0 {
		t.Errorf("DiskWarnPercent = %f, want 80.0", cfg.DiskWarnPercent)
	}
	if cfg.DiskErrorPercent != 90.0 {
		t.Errorf("DiskErrorPercent = %f, want 90.0", cfg.DiskErrorPercent)
	}
}

func TestNew(t *testing.T) {
	cfg := Config{
		WorkspaceDir:     "/custom/workspace",
		Interval:         10 * time.Minute,
		OutputRetention:  2 * time.Hour,
		DiskWarnPercent:  75.0,
		DiskErrorPercent: 85.0,
	}
	cleaner := New(cfg)

	if cleaner.workspaceDir != "/custom/workspace" {
		t.Errorf("workspaceDir = %q, want %q", cleaner.workspaceDir, "/custom/workspace")
	}
	if cleaner.interval != 10*time.Minute {
		t.Errorf("interval = %v, want %v", cleaner.interval, 10*time.Minute)
	}
	if cleaner.retention != 2*time.Hour {
		t.Errorf("retention = %v, want %v", cleaner.retention, 2*time.Hour)
	}
}

func TestCleaner_StartStop(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Config{
		WorkspaceDir:     tmpDir,
		Interval:         100 * time.Millisecond,
		OutputRetention:  1 * time.Hour,
		DiskWarnPercent:  80.0,
		DiskErrorPercent: 90.0,
	}

	cleaner := New(cfg)
	cleaner.Start()
	time.Sleep(150 * time.Millisecond)
	cleaner.Stop()
}

func TestCleaner_CleanupTmpFiles(t *testing.T) {
	tmpDir := t.TempDir()

	oldTmpFile := filepath.Join(tmpDir, "context.json.tmp")
	newTmpFile := filepath.Join(tmpDir, "round-00001.json.tmp")
	regularFile := filepath.Join(tmpDir, "context.json")

	_ = os.WriteFile(oldTmpFile, []byte("old"), 0o644)
	_ = os.WriteFile(newTmpFile, []byte("new"), 0o644)
	_ = os.WriteFile(regularFile, []byte("keep"), 0o644)

	oldTime := time.Now().Add(-2 * time.Hour)
	_ = os.Chtimes(oldTmpFile, oldTime, oldTime)

	cleaner := New(Config{WorkspaceDir: tmpDir, OutputRetention: 1 * time.Hour})
	cleaner.cleanupTmpFiles()

	if _, err := os.Stat(oldTmpFile); !errors.Is(err, fs.ErrNotExist) {
		t.Error("old .tmp file should have been removed")
	}
	if _, err := os.Stat(newTmpFile); err != nil {
		t.Error("new .tmp file should still exist")
	}
	if _, err := os.Stat(regularFile); err != nil {
		t.Error("regular file should still exist")
	}
}

func TestCleaner_CleanupTmpFiles_Nested(t *testing.T) {
	tmpDir := t.TempDir()

	nestedDir := filepath.Join(tmpDir, "memory")
	_ = os.MkdirAll(nestedDir, 0o755)

	nestedTmpFile := filepath.Join(nestedDir, "context.json.tmp")
	_ = os.WriteFile(nestedTmpFile, []byte("nested"), 0o644)

	oldTime := time.Now().Add(-2 * time.Hour)
	_ = os.Chtimes(nestedTmpFile, oldTime, oldTime)

	cleaner := New(Config{WorkspaceDir: tmpDir, OutputRetention: 1 * time.Hour})
	cleaner.cleanupTmpFiles()

	if _, err := os.Stat(nestedTmpFile); !errors.Is(err, fs.ErrNotExist) {
		t.Error("nested old .tmp file should have been removed")
	}
}

func TestCleaner_CleanupOldOutput(t *testing.T) {
	tmpDir := t.TempDir()
	outputDir := filepath.Join(tmpDir, ".tool-output")
	_ = os.MkdirAll(outputDir, 0o755)

	oldFile := filepath.Join(outputDir, "aaaaaaaa.txt")
	newFile := filepath.Join(outputDir, "bbbbbbbb.txt")
	_ = os.WriteFile(oldFile, []byte("done"), 0o644)
	_ = os.WriteFile(newFile, []byte("still running"), 0o644)

	oldTime := time.Now().Add(-2 * time.Hour)
	_ = os.Chtimes(oldFile, oldTime, oldTime)

	cleaner := New(Config{WorkspaceDir: tmpDir, OutputRetention: 1 * time.Hour})
	cleaner.cleanupOldOutput()

	if _, err := os.Stat(oldFile); !errors.Is(err, fs.ErrNotExist) {
		t.Error("old tool-output file should have been removed")
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Error("fresh tool-output file should still exist")
	}
}

func TestCleaner_DiskUsage(t *testing.T) {
	tmpDir := t.TempDir()
	cleaner := New(Config{WorkspaceDir: tmpDir})

	used, total, percent, err := cleaner.DiskUsage()
	if err != nil {
		t.Fatalf("DiskUsage() error = %v", err)
	}
	if total == 0 {
		t.Error("total bytes should be > 0")
	}
	if used > total {
		t.Error("used bytes should be <= total bytes")
	}
	if percent < 0 || percent > 100 {
		t.Errorf("percent = %f, should be between 0 and 100", percent)
	}
}

func TestCleaner_DiskUsage_InvalidPath(t *testing.T) {
	cleaner := New(Config{WorkspaceDir: "/nonexistent/path/that/does/not/exist"})
	if _, _, _, err := cleaner.DiskUsage(); err == nil {
		t.Error("expected error for nonexistent path")
	}
}

func TestCleaner_CheckDiskUsage(t *testing.T) {
	tmpDir := t.TempDir()
	cleaner := New(Config{WorkspaceDir: tmpDir, DiskWarnPercent: 80.0, DiskErrorPercent: 90.0})
	cleaner.checkDiskUsage()
}

func TestCleaner_RunCleanup(t *testing.T) {
	tmpDir := t.TempDir()
	cleaner := New(Config{WorkspaceDir: tmpDir, OutputRetention: 1 * time.Hour, DiskWarnPercent: 80.0, DiskErrorPercent: 90.0})
	cleaner.runCleanup()
}
