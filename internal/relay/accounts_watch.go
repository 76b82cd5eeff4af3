package relay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pkt.systems/pslog"
)

const userReloadInterval = 1 * time.Second

// StartUserReloadLoop polls the accounts file and reloads it when the mtime
// or size changes, so operators can edit accounts without a restart.
func StartUserReloadLoop(ctx context.Context, path string, store *UserStore, logger pslog.Logger) error {
	return startUserReloadLoop(ctx, path, store, logger, userReloadInterval)
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

func startUserReloadLoop(ctx context.Context, path string, store *UserStore, logger pslog.Logger, interval time.Duration) error {
	if store == nil {
		return fmt.Errorf("user store is nil")
	}
	if path == "" {
		return fmt.Errorf("users file is required")
	}
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	path = filepath.Clean(path)
	var last fileStamp
	if info, err := os.Stat(path); err == nil {
		last = fileStamp{modTime: info.ModTime(), size: info.Size()}
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue
				}
				current := fileStamp{modTime: info.ModTime(), size: info.Size()}
				if current == last {
					continue
				}
				if err := store.ReloadFromDisk(path); err != nil {
					logger.Warn("failed to reload users file", "err", err)
					continue
				}
				last = current
				logger.Debug("users file reloaded", "path", path)
			}
		}
	}()
	return nil
}
