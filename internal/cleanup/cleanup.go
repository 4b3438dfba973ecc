package cleanup

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/italolelis/downloadd/internal/logctx"
	"github.com/italolelis/downloadd/internal/record"
	"github.com/italolelis/downloadd/internal/storage"
)

// PurgeFailed removes the partial files and rows of downloads that failed
// permanently longer than keepFor ago. Successful downloads are never touched;
// their files belong to the user until an explicit delete.
func PurgeFailed(ctx context.Context, repo storage.DownloadRepository, keepFor time.Duration, now time.Time) error {
	logger := logctx.LoggerFromContext(ctx)

	downloads, err := repo.GetAll(ctx)
	if err != nil {
		return err
	}

	for _, d := range downloads {
		if !record.IsTerminal(d.Status) || d.Status == record.StatusSuccess {
			continue
		}

		// Retention counts from the failure, not the enqueue; UpdatedAt is the
		// last mutation, which for a terminal-failed row is the failing one.
		failedAt := d.UpdatedAt
		if failedAt.IsZero() {
			failedAt = d.CreatedAt
		}

		if now.Sub(failedAt) <= keepFor {
			continue
		}

		if d.FilePath != "" {
			if err := os.Remove(d.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Error("failed to remove stale partial file", "file_path", d.FilePath, "err", err)

				continue
			}
		}

		if err := repo.Delete(ctx, d.ID); err != nil {
			logger.Error("failed to delete stale download row", "download_id", d.ID, "err", err)

			continue
		}

		logger.Info("purged failed download", "download_id", d.ID, "status", d.Status)
	}

	return nil
}
