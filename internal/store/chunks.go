package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"gwi.com/journal-companion/internal/chunker"
	"gwi.com/journal-companion/internal/utils"
)

// ReplaceChunks swaps the whole chunk set of an entry in one transaction. New
// chunks start without an embedding.
func (s *SQLiteStore) ReplaceChunks(ctx context.Context, entryID string, chunks []chunker.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entry_chunks WHERE entry_id = ?", entryID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO entry_chunks (entry_id, chunk_index, chunk_text, start_offset, end_offset) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, entryID, c.Index, c.Text, c.Start, c.End); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChunks(ctx context.Context, entryID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entry_chunks WHERE entry_id = ?", entryID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// PendingChunks returns up to limit chunks still waiting for an embedding, oldest first.
func (s *SQLiteStore) PendingChunks(ctx context.Context, limit int) ([]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, entry_id, chunk_index, chunk_text, start_offset, end_offset
        FROM entry_chunks
        WHERE embedding IS NULL
        ORDER BY id
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending chunks: %w", err)
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.ID, &c.EntryID, &c.ChunkIndex, &c.Text, &c.Start, &c.End); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SetChunkEmbeddings overwrites the embeddings of the given chunk indexes and
// returns the indexes that no longer exist.
func (s *SQLiteStore) SetChunkEmbeddings(ctx context.Context, entryID string, vectors map[int][]float32) ([]int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"UPDATE entry_chunks SET embedding = ?, dims = ? WHERE entry_id = ? AND chunk_index = ?")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare embedding update: %w", err)
	}
	defer stmt.Close()

	var missing []int
	for idx, vec := range vectors {
		res, err := stmt.ExecContext(ctx, utils.EncodeVector(vec), len(vec), entryID, idx)
		if err != nil {
			return nil, fmt.Errorf("failed to store embedding for chunk %d: %w", idx, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			missing = append(missing, idx)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit embeddings: %w", err)
	}
	return missing, nil
}

// EmbeddedChunksAfter returns up to limit embedded chunks with id > afterID in id
// order, for keyset pagination over the whole index.
func (s *SQLiteStore) EmbeddedChunksAfter(ctx context.Context, afterID int64, limit int) ([]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, entry_id, chunk_index, chunk_text, start_offset, end_offset, embedding, dims
        FROM entry_chunks
        WHERE embedding IS NOT NULL AND id > ?
        ORDER BY id
        LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedded chunks: %w", err)
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.ID, &c.EntryID, &c.ChunkIndex, &c.Text, &c.Start, &c.End, &c.Embedding, &c.Dims); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunksForEntry returns the stored chunks of one entry in index order.
func (s *SQLiteStore) ChunksForEntry(ctx context.Context, entryID string) ([]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, entry_id, chunk_index, chunk_text, start_offset, end_offset, embedding, dims
        FROM entry_chunks
        WHERE entry_id = ?
        ORDER BY chunk_index`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry chunks: %w", err)
	}
	defer rows.Close()

	var chunks []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.ID, &c.EntryID, &c.ChunkIndex, &c.Text, &c.Start, &c.End, &c.Embedding, &c.Dims); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkStats reports the total and pending chunk counts.
func (s *SQLiteStore) ChunkStats(ctx context.Context) (total, pending int, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(CASE WHEN embedding IS NULL THEN 1 ELSE 0 END), 0) FROM entry_chunks",
	).Scan(&total, &pending)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return total, pending, nil
}

// ---------- embedding cache ----------

// CachedEmbedding looks up an embedding by text hash and model.
func (s *SQLiteStore) CachedEmbedding(ctx context.Context, text, model string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM embedding_cache WHERE text_hash = ? AND model = ?",
		hashText(text), model,
	).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read embedding cache: %w", err)
	}
	vec, err := utils.DecodeVector(blob)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// PutCachedEmbedding stores or refreshes a cache row.
func (s *SQLiteStore) PutCachedEmbedding(ctx context.Context, text, model string, vec []float32) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO embedding_cache (text_hash, model, embedding, dims, updated_at)
        VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(text_hash, model) DO UPDATE SET
            embedding = excluded.embedding, dims = excluded.dims, updated_at = CURRENT_TIMESTAMP`,
		hashText(text), model, utils.EncodeVector(vec), len(vec))
	if err != nil {
		return fmt.Errorf("failed to write embedding cache: %w", err)
	}
	return nil
}

// PruneEmbeddingCache keeps only the maxEntries most recently written cache rows.
func (s *SQLiteStore) PruneEmbeddingCache(ctx context.Context, maxEntries int) (int64, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	res, err := s.db.ExecContext(ctx, `
        DELETE FROM embedding_cache WHERE rowid IN (
            SELECT rowid FROM embedding_cache
            ORDER BY updated_at DESC
            LIMIT -1 OFFSET ?
        )`, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("failed to prune embedding cache: %w", err)
	}
	return res.RowsAffected()
}

// hashText computes the SHA-256 hex hash of a text for cache keying.
func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
