package logging

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const logPruneInterval = time.Minute

var logPrunerCancel context.CancelFunc

func startLogPrunerLocked(logDir string, maxTotalSizeMB int, activePath string) {
	stopLogPrunerLocked()

	maxBytes := int64(maxTotalSizeMB) * 1024 * 1024
	dir := strings.TrimSpace(logDir)
	if maxBytes <= 0 || dir == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	logPrunerCancel = cancel
	go func() {
		ticker := time.NewTicker(logPruneInterval)
		defer ticker.Stop()
		for {
			removed, errPrune := pruneLogDir(dir, maxBytes, activePath)
			if errPrune != nil {
				log.WithError(errPrune).Warn("logging: failed to enforce log directory size limit")
			} else if removed > 0 {
				log.Debugf("logging: removed %d old log file(s) to enforce log directory size limit", removed)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func stopLogPrunerLocked() {
	if logPrunerCancel != nil {
		logPrunerCancel()
		logPrunerCancel = nil
	}
}

type logFileInfo struct {
	path    string
	size    int64
	modTime time.Time
}

// pruneLogDir deletes the oldest *.log / *.log.gz files in dir until their total size is at
// most maxBytes. The file currently written to is never removed.
func pruneLogDir(dir string, maxBytes int64, activePath string) (int, error) {
	entries, errRead := os.ReadDir(dir)
	if errRead != nil {
		if os.IsNotExist(errRead) {
			return 0, nil
		}
		return 0, errRead
	}
	if activePath != "" {
		activePath = filepath.Clean(activePath)
	}

	var (
		files []logFileInfo
		total int64
	)
	for _, entry := range entries {
		if entry.IsDir() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, logFileInfo{path: filepath.Join(dir, entry.Name()), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	if total <= maxBytes {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	removed := 0
	for _, file := range files {
		if total <= maxBytes {
			break
		}
		if file.path == activePath {
			continue
		}
		if errRemove := os.Remove(file.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: failed to remove old log file: %s", filepath.Base(file.path))
			continue
		}
		total -= file.size
		removed++
	}
	return removed, nil
}

func isLogFileName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".log") || strings.HasSuffix(lower, ".log.gz")
}
