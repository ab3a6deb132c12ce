package media

import (
	"context"
	"log"
	"time"

	"timelines/api/internal/store"
)

// CleanupStore is the outbox the janitor drains.
type CleanupStore interface {
	ListBlobCleanups(ctx context.Context, limit int) ([]store.BlobCleanup, error)
	ResolveBlobCleanup(ctx context.Context, id int64) error
	BumpBlobCleanup(ctx context.Context, id int64) error
}

// Janitor retries blob deletes that failed inline. It keeps cleanup out of the
// save path while making failures observable instead of silently lost.
type Janitor struct {
	outbox   CleanupStore
	blobs    BlobStore
	interval time.Duration
	batch    int
}

func NewJanitor(outbox CleanupStore, blobs BlobStore, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{outbox: outbox, blobs: blobs, interval: interval, batch: 50}
}

// Run drains the outbox on a ticker until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep processes one batch of pending deletes.
func (j *Janitor) Sweep(ctx context.Context) {
	pending, err := j.outbox.ListBlobCleanups(ctx, j.batch)
	if err != nil {
		log.Printf("media: list blob cleanups: %v", err)
		return
	}
	for _, item := range pending {
		if err := j.blobs.Delete(ctx, item.Path); err != nil {
			log.Printf("media: retry delete %s (attempt %d): %v", item.Path, item.Attempts+1, err)
			if err := j.outbox.BumpBlobCleanup(ctx, item.ID); err != nil {
				log.Printf("media: bump cleanup %d: %v", item.ID, err)
			}
			continue
		}
		if err := j.outbox.ResolveBlobCleanup(ctx, item.ID); err != nil {
			log.Printf("media: resolve cleanup %d: %v", item.ID, err)
		}
	}
}
