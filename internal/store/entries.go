package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gwi.com/journal-companion/internal/utils"
)

const entryColumns = "id, title, content, file_path, tags, folder, favorite, created_at, updated_at"

// NewEntryID derives an entry id from t: UTC timestamp plus microseconds.
func NewEntryID(t time.Time) string {
	t = t.UTC()
	return t.Format("20060102150405") + fmt.Sprintf("%06d", t.Nanosecond()/1000)
}

// CreateEntry assigns an id and timestamps when missing, writes the markdown
// file and inserts the metadata row.
func (s *SQLiteStore) CreateEntry(ctx context.Context, e *Entry) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.ID == "" {
		id, err := s.uniqueEntryID(ctx, e.CreatedAt)
		if err != nil {
			return err
		}
		e.ID = id
	}
	e.Tags = normalizeTags(e.Tags)
	e.FilePath = EntryPath(s.journalDir, e.ID)

	if err := writeEntryFile(e.FilePath, e); err != nil {
		return err
	}

	tags, _ := json.Marshal(e.Tags)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO entries ("+entryColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.Title, e.Content, e.FilePath, string(tags), e.Folder, e.Favorite,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// uniqueEntryID bumps the microsecond part until the id is free.
func (s *SQLiteStore) uniqueEntryID(ctx context.Context, t time.Time) (string, error) {
	for i := 0; i < 1000; i++ {
		id := NewEntryID(t.Add(time.Duration(i) * time.Microsecond))
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE id = ?", id).Scan(&exists)
		if err != nil {
			return "", fmt.Errorf("failed to check entry id: %w", err)
		}
		if exists == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not allocate entry id for %s", t)
}

// UpdateEntry rewrites the markdown file and metadata of an existing entry.
// The caller is responsible for bumping UpdatedAt.
func (s *SQLiteStore) UpdateEntry(ctx context.Context, e *Entry) error {
	existing, err := s.GetEntry(ctx, e.ID)
	if err != nil {
		return err
	}
	e.CreatedAt = existing.CreatedAt
	e.Tags = normalizeTags(e.Tags)
	e.FilePath = existing.FilePath
	if e.FilePath == "" {
		e.FilePath = EntryPath(s.journalDir, e.ID)
	}

	if err := writeEntryFile(e.FilePath, e); err != nil {
		return err
	}

	tags, _ := json.Marshal(e.Tags)
	_, err = s.db.ExecContext(ctx,
		"UPDATE entries SET title = ?, content = ?, file_path = ?, tags = ?, folder = ?, favorite = ?, updated_at = ? WHERE id = ?",
		e.Title, e.Content, e.FilePath, string(tags), e.Folder, e.Favorite, formatTime(e.UpdatedAt), e.ID)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	return nil
}

// UpsertEntry inserts or replaces the metadata row of an entry whose file already exists on disk.
func (s *SQLiteStore) UpsertEntry(ctx context.Context, e *Entry) error {
	e.Tags = normalizeTags(e.Tags)
	if e.FilePath == "" {
		e.FilePath = EntryPath(s.journalDir, e.ID)
	}
	tags, _ := json.Marshal(e.Tags)
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title, content = excluded.content, file_path = excluded.file_path,
            tags = excluded.tags, folder = excluded.folder, favorite = excluded.favorite,
            updated_at = excluded.updated_at`,
		e.ID, e.Title, e.Content, e.FilePath, string(tags), e.Folder, e.Favorite,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEntry(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

// GetEntries loads the given ids; unknown ids are absent from the result.
func (s *SQLiteStore) GetEntries(ctx context.Context, ids []string) (map[string]*Entry, error) {
	out := make(map[string]*Entry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		out[e.ID] = e
	}
	return out, rows.Err()
}

// DeleteEntry removes the entry row, its chunks and its markdown file.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, id string) error {
	e, err := s.GetEntry(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entry_chunks WHERE entry_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete entry chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit entry delete: %w", err)
	}

	if e.FilePath != "" {
		if err := os.Remove(e.FilePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove entry file", "entry_id", id, "path", e.FilePath, "error", err)
		}
	}
	return nil
}

// ListEntries returns entries matching filter, newest first.
func (s *SQLiteStore) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	where, args := filterClause(filter)
	query := "SELECT " + entryColumns + " FROM entries" + where + " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// likeEscaper makes LIKE wildcards in keywords match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// TextSearch matches any query keyword against title and body with LIKE and
// scores each hit by the fraction of keywords it contains.
func (s *SQLiteStore) TextSearch(ctx context.Context, query string, filter EntryFilter) ([]TextHit, error) {
	keywords := utils.ExtractKeywords(query)
	if len(keywords) == 0 {
		keywords = strings.Fields(strings.ToLower(query))
	}
	if len(keywords) == 0 {
		return nil, nil
	}

	where, args := filterClause(filter)
	var conditions []string
	for _, kw := range keywords {
		conditions = append(conditions, `LOWER(title || ' ' || content) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscaper.Replace(kw)+"%")
	}
	if where == "" {
		where = " WHERE "
	} else {
		where += " AND "
	}
	where += "(" + strings.Join(conditions, " OR ") + ")"

	rows, err := s.db.QueryContext(ctx, "SELECT "+entryColumns+" FROM entries"+where, args...)
	if err != nil {
		return nil, fmt.Errorf("LIKE search: %w", err)
	}
	defer rows.Close()

	var hits []TextHit
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry row: %w", err)
		}
		hits = append(hits, TextHit{
			Entry: *e,
			Score: utils.KeywordScore(keywords, e.Title+" "+e.Content),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entry.CreatedAt.After(hits[j].Entry.CreatedAt)
	})
	if filter.Limit > 0 {
		if filter.Offset >= len(hits) {
			return nil, nil
		}
		hits = hits[filter.Offset:]
		if len(hits) > filter.Limit {
			hits = hits[:filter.Limit]
		}
	}
	return hits, nil
}

// EntryCount returns the number of stored entries.
func (s *SQLiteStore) EntryCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

func filterClause(f EntryFilter) (string, []any) {
	var conditions []string
	var args []any
	if !f.DateFrom.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, formatTime(f.DateFrom))
	}
	if !f.DateTo.IsZero() {
		// Inclusive of the whole last second.
		conditions = append(conditions, "created_at < ?")
		args = append(args, formatTime(f.DateTo.Truncate(time.Second).Add(time.Second)))
	}
	if f.Folder != "" {
		conditions = append(conditions, "folder = ?")
		args = append(args, f.Folder)
	}
	if f.FavoriteOnly {
		conditions = append(conditions, "favorite = TRUE")
	}
	for _, tag := range normalizeTags(f.Tags) {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(entries.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	var e Entry
	var tags, created, updated string
	if err := r.Scan(&e.ID, &e.Title, &e.Content, &e.FilePath, &tags, &e.Folder, &e.Favorite, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags of entry %s: %w", e.ID, err)
	}
	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &e, nil
}

// normalizeTags lowercases, trims and de-duplicates tags, keeping first-seen order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
