// Package cleanup provides a background upkeep ticker for a workspace:
// removing orphaned .tmp files left behind by an interrupted atomic
// write, aging out old .tool-output/*.txt transcripts, and watching
// disk usage.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agentloom/agentloom/internal/logger"
)

// Cleaner performs periodic workspace upkeep.
type Cleaner struct {
	workspaceDir string
	interval     time.Duration
	retention    time.Duration
	diskWarn     float64
	diskError    float64
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// Config holds cleanup configuration.
type Config struct {
	WorkspaceDir     string
	Interval         time.Duration // how often to run cleanup
	OutputRetention  time.Duration // how long to keep completed .tool-output/*.txt files
	DiskWarnPercent  float64
	DiskErrorPercent float64
}

// DefaultConfig returns sensible defaults for a workspace.
func DefaultConfig(workspaceDir string) Config {
	return Config{
		WorkspaceDir:     workspaceDir,
		Interval:         5 * time.Minute,
		OutputRetention:  1 * time.Hour,
		DiskWarnPercent:  80.0,
		DiskErrorPercent: 90.0,
	}
}

// New creates a Cleaner with the given configuration.
func New(cfg Config) *Cleaner {
	return &Cleaner{
		workspaceDir: cfg.WorkspaceDir,
		interval:     cfg.Interval,
		retention:    cfg.OutputRetention,
		diskWarn:     cfg.DiskWarnPercent,
		diskError:    cfg.DiskErrorPercent,
	}
}

// Start begins the periodic cleanup loop.
func (c *Cleaner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.runCleanup()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runCleanup()
			}
		}
	}()

	logger.Info("cleanup started", "interval", c.interval, "retention", c.retention)
}

// Stop halts the cleanup loop and waits for the in-flight pass to finish.
func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
		logger.Info("cleanup stopped")
	}
}

func (c *Cleaner) runCleanup() {
	c.cleanupTmpFiles()
	c.cleanupOldOutput()
	c.checkDiskUsage()
}

// cleanupTmpFiles removes orphaned .tmp files (an atomic write that
// never reached its rename, most likely from a killed process) older
// than retention.
func (c *Cleaner) cleanupTmpFiles() {
	cutoff := time.Now().Add(-c.retention)
	var removed int

	err := filepath.Walk(c.workspaceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".tmp") && info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn("cleanup walk error", "error", err)
	}
	if removed > 0 {
		logger.Info("removed orphaned .tmp files", "count", removed)
	}
}

// cleanupOldOutput removes .tool-output/*.txt files older than
// retention. Live background jobs keep writing to their file, which
// keeps its mtime fresh, so this only reaps files whose job has long
// since finished and whose caller never read them.
func (c *Cleaner) cleanupOldOutput() {
	dir := filepath.Join(c.workspaceDir, ".tool-output")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-c.retention)
	var removed int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		logger.Info("removed stale tool-output files", "count", removed)
	}
}

// checkDiskUsage monitors disk usage and logs warnings.
func (c *Cleaner) checkDiskUsage() {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(c.workspaceDir, &stat); err != nil {
		return
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)
	used := total - free
	usedPercent := float64(used) / float64(total) * 100

	if usedPercent >= c.diskError {
		logger.Error("disk usage critical", "percent", usedPercent, "dir", c.workspaceDir)
	} else if usedPercent >= c.diskWarn {
		logger.Warn("disk usage high", "percent", usedPercent, "dir", c.workspaceDir)
	}
}

// DiskUsage returns current disk usage stats for the workspace volume.
func (c *Cleaner) DiskUsage() (usedBytes, totalBytes uint64, usedPercent float64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(c.workspaceDir, &stat); err != nil {
		return
	}

	totalBytes = stat.Blocks * uint64(stat.Bsize)
	freeBytes := stat.Bfree * uint64(stat.Bsize)
	usedBytes = totalBytes - freeBytes
	usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	return
}
