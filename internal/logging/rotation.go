package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RunLog is a per-run log file. Opening it shifts the previous runs'
// logs to numbered backups so each invocation starts with an empty file.
// Writes past maxSize are dropped and counted instead of growing the file.
// It implements io.Writer and is safe for concurrent use.
type RunLog struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64 // bytes
	maxBackups int
	written    int64
	dropped    int64
}

// OpenRunLog rotates any existing log at filePath and opens a fresh one.
// maxSizeMB caps the file; keep controls how many earlier runs are kept.
func OpenRunLog(filePath string, maxSizeMB int, keep int) (*RunLog, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 8
	}
	if keep < 0 {
		keep = 0
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	rl := &RunLog{
		filePath:   filePath,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: keep,
	}
	rl.shift()

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	rl.file = f
	return rl, nil
}

// Write implements io.Writer.
func (rl *RunLog) Write(p []byte) (int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.file == nil {
		return 0, os.ErrClosed
	}
	if rl.written+int64(len(p)) > rl.maxSize {
		rl.dropped++
		return len(p), nil
	}

	n, err := rl.file.Write(p)
	rl.written += int64(n)
	return n, err
}

// Dropped reports how many writes were discarded because of the size cap.
func (rl *RunLog) Dropped() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.dropped
}

// Close syncs and closes the file. Safe to call more than once.
func (rl *RunLog) Close() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.file == nil {
		return nil
	}
	rl.file.Sync()
	err := rl.file.Close()
	rl.file = nil
	return err
}

// shift moves path.N-1 to path.N down to path → path.1, dropping the oldest.
func (rl *RunLog) shift() {
	if rl.maxBackups == 0 {
		os.Remove(rl.filePath)
		return
	}
	os.Remove(rl.backupName(rl.maxBackups))
	for i := rl.maxBackups; i >= 2; i-- {
		os.Rename(rl.backupName(i-1), rl.backupName(i))
	}
	os.Rename(rl.filePath, rl.backupName(1))
}

func (rl *RunLog) backupName(index int) string {
	if index == 0 {
		return rl.filePath
	}
	return fmt.Sprintf("%s.%d", rl.filePath, index)
}
