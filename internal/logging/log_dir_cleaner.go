package logging

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const logDirCleanerInterval = time.Minute

var logDirCleanerCancel context.CancelFunc

// configureLogDirCleanerLocked restarts the cleaner for logDir. writerMu must be held.
func configureLogDirCleanerLocked(logDir string, maxTotalSizeMB int, activePath string) {
	stopLogDirCleanerLocked()
	if maxTotalSizeMB <= 0 || strings.TrimSpace(logDir) == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	logDirCleanerCancel = cancel
	go runLogDirCleaner(ctx, filepath.Clean(logDir), int64(maxTotalSizeMB)<<20, activePath)
}

func stopLogDirCleanerLocked() {
	if logDirCleanerCancel != nil {
		logDirCleanerCancel()
		logDirCleanerCancel = nil
	}
}

func runLogDirCleaner(ctx context.Context, logDir string, maxBytes int64, activePath string) {
	ticker := time.NewTicker(logDirCleanerInterval)
	defer ticker.Stop()
	for {
		if deleted, err := pruneLogDir(logDir, maxBytes, activePath); err != nil {
			log.WithError(err).Warn("logging: failed to prune log directory")
		} else if deleted > 0 {
			log.Debugf("logging: removed %d rotated log file(s)", deleted)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type logFile struct {
	path    string
	size    int64
	modTime time.Time
}

// pruneLogDir removes the oldest log files until the directory fits in maxBytes.
// The active file is never removed. It returns how many files were deleted.
func pruneLogDir(logDir string, maxBytes int64, activePath string) (int, error) {
	if maxBytes <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var files []logFile
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, logFile{path: filepath.Join(logDir, entry.Name()), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	if total <= maxBytes {
		return 0, nil
	}

	slices.SortFunc(files, func(a, b logFile) int { return a.modTime.Compare(b.modTime) })
	active := filepath.Clean(activePath)
	deleted := 0
	for _, f := range files {
		if total <= maxBytes {
			break
		}
		if f.path == active {
			continue
		}
		if errRemove := os.Remove(f.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: failed to remove %s", filepath.Base(f.path))
			continue
		}
		total -= f.size
		deleted++
	}
	return deleted, nil
}

func isLogFileName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".log") || strings.HasSuffix(lower, ".log.gz")
}
