package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"gwi.com/journal-companion/internal/chunker"
	"gwi.com/journal-companion/internal/store"
	"gwi.com/journal-companion/internal/telemetry"
	"gwi.com/journal-companion/internal/utils"
)

const (
	DefaultEmbedSchedule  = "@every 30s"
	DefaultEmbedBatchSize = 64
	cronStopTimeout       = 10 * time.Second
)

// CachePruner bounds the embedding cache.
type CachePruner interface {
	PruneEmbeddingCache(ctx context.Context, maxEntries int) (int64, error)
}

type EmbeddingWorkerOptions struct {
	Schedule  string
	BatchSize int
	// CacheMaxEntries caps the embedding cache after each pass; 0 disables pruning.
	CacheMaxEntries int
	// Passages, when Size is set, also embeds the retrieval passages of every
	// entry touched by a pass. With a caching embedder retrieval then finds
	// them in the cache.
	Passages chunker.Options
}

// EmbeddingWorker embeds pending chunks on a cron schedule.
type EmbeddingWorker struct {
	index    *VectorIndex
	embedder Embedder
	pruner   CachePruner
	opts     EmbeddingWorkerOptions
	logger   *slog.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewEmbeddingWorker(index *VectorIndex, embedder Embedder, pruner CachePruner, opts EmbeddingWorkerOptions, logger *slog.Logger) *EmbeddingWorker {
	if opts.Schedule == "" {
		opts.Schedule = DefaultEmbedSchedule
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEmbedBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingWorker{index: index, embedder: embedder, pruner: pruner, opts: opts, logger: logger}
}

// ProcessPending embeds pending chunks batch by batch until none are left or a
// batch makes no progress. Chunks whose embedding degraded to a zero vector
// stay pending for the next pass.
func (w *EmbeddingWorker) ProcessPending(ctx context.Context) (int, error) {
	embedded := 0
	for {
		if err := ctx.Err(); err != nil {
			return embedded, err
		}
		pending, err := w.index.PendingChunks(ctx, w.opts.BatchSize)
		if err != nil {
			return embedded, fmt.Errorf("failed to load pending chunks: %w", err)
		}
		if len(pending) == 0 {
			return embedded, nil
		}

		progress, err := w.embedBatch(ctx, pending)
		embedded += progress
		if err != nil {
			return embedded, err
		}
		if progress == 0 || len(pending) < w.opts.BatchSize {
			return embedded, nil
		}
	}
}

func (w *EmbeddingWorker) embedBatch(ctx context.Context, pending []store.ChunkRecord) (int, error) {
	byEntry := make(map[string]map[int][]float32)
	var order []string
	skipped := 0
	for _, c := range pending {
		vec, err := w.embedder.Embed(ctx, c.Text)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunk %d of entry %s: %w", c.ChunkIndex, c.EntryID, err)
		}
		if utils.IsZero(vec) {
			skipped++
			continue
		}
		if _, ok := byEntry[c.EntryID]; !ok {
			byEntry[c.EntryID] = make(map[int][]float32)
			order = append(order, c.EntryID)
		}
		byEntry[c.EntryID][c.ChunkIndex] = vec
	}

	embedded := 0
	for _, entryID := range order {
		vectors := byEntry[entryID]
		if err := w.index.AttachEmbeddings(ctx, entryID, vectors); err != nil {
			return embedded, err
		}
		embedded += len(vectors)
	}
	if skipped > 0 {
		w.logger.Warn("chunks left pending after degraded embeddings", "chunks", skipped)
	}
	if w.opts.Passages.Size > 0 && len(order) > 0 {
		w.warmPassages(ctx, order)
	}
	return embedded, nil
}

// warmPassages embeds retrieval passages for entryIDs. Failures are logged;
// retrieval embeds whatever is missing on demand.
func (w *EmbeddingWorker) warmPassages(ctx context.Context, entryIDs []string) {
	passages, err := w.index.Passages(ctx, entryIDs, w.opts.Passages)
	if err != nil {
		w.logger.Warn("failed to load retrieval passages", "error", err)
		return
	}
	warmed := 0
	for _, id := range entryIDs {
		for _, p := range passages[id] {
			if _, err := w.embedder.Embed(ctx, p.Text); err != nil {
				w.logger.Warn("failed to embed retrieval passage", "entry_id", id, "chunk_index", p.Index, "error", err)
				return
			}
			warmed++
		}
	}
	w.logger.Debug("retrieval passages embedded", "entries", len(entryIDs), "passages", warmed)
}

// RunOnce runs one embedding pass and prunes the cache.
func (w *EmbeddingWorker) RunOnce(ctx context.Context) {
	start := time.Now()
	n, err := w.ProcessPending(ctx)
	if err != nil {
		w.logger.Error("embedding pass failed", "embedded", n, "error", err)
		telemetry.CaptureError(ctx, err, map[string]string{"component": "embedding_worker"})
	} else if n > 0 {
		w.logger.Info("embedding pass complete", "embedded", n, "duration", time.Since(start))
	}

	if w.pruner != nil && w.opts.CacheMaxEntries > 0 {
		removed, err := w.pruner.PruneEmbeddingCache(ctx, w.opts.CacheMaxEntries)
		if err != nil {
			w.logger.Warn("failed to prune embedding cache", "error", err)
		} else if removed > 0 {
			w.logger.Debug("pruned embedding cache", "removed", removed)
		}
	}
}

// Start schedules RunOnce. Overlapping runs are skipped.
func (w *EmbeddingWorker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := w.cron.AddFunc(w.opts.Schedule, func() { w.RunOnce(ctx) }); err != nil {
		w.cancel()
		return fmt.Errorf("invalid embedding schedule %q: %w", w.opts.Schedule, err)
	}
	w.cron.Start()
	w.logger.Info("embedding worker started", "schedule", w.opts.Schedule)
	return nil
}

// Stop waits for a running pass to finish, up to a timeout.
func (w *EmbeddingWorker) Stop() {
	if w.cron != nil {
		done := w.cron.Stop()
		select {
		case <-done.Done():
		case <-time.After(cronStopTimeout):
			w.logger.Warn("embedding worker stop timed out")
		}
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.logger.Info("embedding worker stopped")
}
