package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"gwi.com/journal-companion/internal/chunker"
	"gwi.com/journal-companion/internal/store"
	"gwi.com/journal-companion/internal/utils"
)

const defaultSearchBatchSize = 256

// ChunkStore is the persistence the vector index needs.
type ChunkStore interface {
	ReplaceChunks(ctx context.Context, entryID string, chunks []chunker.Chunk) error
	DeleteChunks(ctx context.Context, entryID string) error
	PendingChunks(ctx context.Context, limit int) ([]store.ChunkRecord, error)
	SetChunkEmbeddings(ctx context.Context, entryID string, vectors map[int][]float32) ([]int, error)
	EmbeddedChunksAfter(ctx context.Context, afterID int64, limit int) ([]store.ChunkRecord, error)
	GetEntries(ctx context.Context, ids []string) (map[string]*store.Entry, error)
}

// VectorIndex stores one embedding per (entry, chunk) and answers similarity
// queries with a linear scan.
type VectorIndex struct {
	store     ChunkStore
	dims      int
	chunkOpts chunker.Options
	logger    *slog.Logger
}

// SemanticHit is one chunk matched by similarity, with its entry hydrated.
type SemanticHit struct {
	Entry      store.Entry `json:"entry"`
	ChunkIndex int         `json:"chunk_index"`
	ChunkText  string      `json:"chunk_text"`
	Similarity float32     `json:"similarity"`
}

type SearchOptions struct {
	Limit     int
	Offset    int
	BatchSize int
}

func NewVectorIndex(st ChunkStore, dims int, chunkOpts chunker.Options, logger *slog.Logger) *VectorIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorIndex{store: st, dims: dims, chunkOpts: chunkOpts, logger: logger}
}

// Dimensions is the vector length every stored embedding is reconciled to.
func (v *VectorIndex) Dimensions() int {
	return v.dims
}

// entryText is what an entry is chunked from, both for storage and for retrieval.
func entryText(e *store.Entry) string {
	return e.Title + "\n\n" + e.Content
}

// Index replaces the chunk set of e. The new chunks are pending until embedded.
func (v *VectorIndex) Index(ctx context.Context, e *store.Entry) (int, error) {
	chunks := chunker.Split(entryText(e), v.chunkOpts)
	if err := v.store.ReplaceChunks(ctx, e.ID, chunks); err != nil {
		return 0, fmt.Errorf("failed to index entry %s: %w", e.ID, err)
	}
	return len(chunks), nil
}

func (v *VectorIndex) Remove(ctx context.Context, entryID string) error {
	return v.store.DeleteChunks(ctx, entryID)
}

// Passages returns the overlapping retrieval passages of each entry, keyed by
// entry id. Unknown ids are left out.
func (v *VectorIndex) Passages(ctx context.Context, entryIDs []string, opts chunker.Options) (map[string][]chunker.Chunk, error) {
	entries, err := v.store.GetEntries(ctx, entryIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries for passages: %w", err)
	}
	out := make(map[string][]chunker.Chunk, len(entries))
	for id, e := range entries {
		out[id] = chunker.ChunkWithPositions(entryText(e), opts)
	}
	return out, nil
}

func (v *VectorIndex) PendingChunks(ctx context.Context, limit int) ([]store.ChunkRecord, error) {
	return v.store.PendingChunks(ctx, limit)
}

// AttachEmbeddings stores vectors for chunks of entryID, reconciling each to the
// index dimension first.
func (v *VectorIndex) AttachEmbeddings(ctx context.Context, entryID string, vectors map[int][]float32) error {
	reconciled := make(map[int][]float32, len(vectors))
	for idx, vec := range vectors {
		if v.dims > 0 && len(vec) != v.dims {
			v.logger.Warn("embedding dimension mismatch, reconciling",
				"entry_id", entryID, "chunk_index", idx, "got", len(vec), "want", v.dims)
			vec = utils.Resize(vec, v.dims)
		}
		reconciled[idx] = vec
	}

	missing, err := v.store.SetChunkEmbeddings(ctx, entryID, reconciled)
	if err != nil {
		return fmt.Errorf("failed to attach embeddings for entry %s: %w", entryID, err)
	}
	if len(missing) > 0 {
		v.logger.Warn("embeddings for unknown chunks dropped", "entry_id", entryID, "chunk_indexes", missing)
	}
	return nil
}

type scoredChunk struct {
	entryID    string
	chunkIndex int
	text       string
	similarity float32
}

// Search scans every embedded chunk in id-ordered batches and returns hits
// sorted by descending cosine similarity, after offset and limit.
func (v *VectorIndex) Search(ctx context.Context, query []float32, opts SearchOptions) ([]SemanticHit, error) {
	if len(query) == 0 {
		return nil, errors.New("query vector is empty")
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultSearchBatchSize
	}

	var scored []scoredChunk
	var afterID int64
	mismatched, skipped := 0, 0
	for {
		rows, err := v.store.EmbeddedChunksAfter(ctx, afterID, batch)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			vec, err := utils.DecodeVector(row.Embedding)
			if err != nil || len(vec) == 0 {
				v.logger.Warn("skipping chunk with unreadable embedding",
					"entry_id", row.EntryID, "chunk_index", row.ChunkIndex, "error", err)
				skipped++
				continue
			}
			q := query
			if len(vec) != len(q) {
				mismatched++
				q, vec = utils.ReconcileDimensions(q, vec, true)
			}
			sim, err := utils.CosineSimilarity(q, vec)
			if err != nil {
				v.logger.Warn("skipping chunk after failed similarity",
					"entry_id", row.EntryID, "chunk_index", row.ChunkIndex, "error", err)
				skipped++
				continue
			}
			scored = append(scored, scoredChunk{
				entryID:    row.EntryID,
				chunkIndex: row.ChunkIndex,
				text:       row.Text,
				similarity: sim,
			})
		}
		if len(rows) < batch {
			break
		}
		afterID = rows[len(rows)-1].ID
	}
	if mismatched > 0 {
		v.logger.Warn("reconciled embedding dimensions during search", "chunks", mismatched, "query_dims", len(query))
	}
	if skipped > 0 {
		v.logger.Warn("chunks skipped during search", "chunks", skipped)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].similarity != scored[j].similarity {
			return scored[i].similarity > scored[j].similarity
		}
		if scored[i].entryID != scored[j].entryID {
			return scored[i].entryID < scored[j].entryID
		}
		return scored[i].chunkIndex < scored[j].chunkIndex
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(scored) {
			return nil, nil
		}
		scored = scored[opts.Offset:]
	}
	if opts.Limit > 0 && len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}
	return v.hydrate(ctx, scored)
}

func (v *VectorIndex) hydrate(ctx context.Context, scored []scoredChunk) ([]SemanticHit, error) {
	if len(scored) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, s := range scored {
		if !seen[s.entryID] {
			seen[s.entryID] = true
			ids = append(ids, s.entryID)
		}
	}
	entries, err := v.store.GetEntries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate search hits: %w", err)
	}

	hits := make([]SemanticHit, 0, len(scored))
	for _, s := range scored {
		e, ok := entries[s.entryID]
		if !ok {
			v.logger.Warn("chunk references missing entry", "entry_id", s.entryID)
			continue
		}
		hits = append(hits, SemanticHit{
			Entry:      *e,
			ChunkIndex: s.chunkIndex,
			ChunkText:  s.text,
			Similarity: s.similarity,
		})
	}
	return hits, nil
}
