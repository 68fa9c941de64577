package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gwi.com/journal-companion/internal/store"
)

// EntryStore is the entry and persona persistence the journal service needs.
type EntryStore interface {
	EntrySource
	CreateEntry(ctx context.Context, e *store.Entry) error
	GetEntry(ctx context.Context, id string) (*store.Entry, error)
	UpdateEntry(ctx context.Context, e *store.Entry) error
	UpsertEntry(ctx context.Context, e *store.Entry) error
	DeleteEntry(ctx context.Context, id string) error
	CreatePersona(ctx context.Context, p *store.Persona) error
	ListPersonas(ctx context.Context) ([]store.Persona, error)
	EntryCount(ctx context.Context) (int, error)
}

// JournalService owns entry lifecycle and keeps the vector index in step with it.
type JournalService struct {
	store  EntryStore
	index  *VectorIndex
	logger *slog.Logger
}

func NewJournalService(st EntryStore, index *VectorIndex, logger *slog.Logger) *JournalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JournalService{store: st, index: index, logger: logger}
}

type NewEntry struct {
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Tags      []string   `json:"tags"`
	Folder    string     `json:"folder"`
	Favorite  bool       `json:"favorite"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// EntryPatch updates only the fields that are set.
type EntryPatch struct {
	Title    *string   `json:"title"`
	Content  *string   `json:"content"`
	Tags     *[]string `json:"tags"`
	Folder   *string   `json:"folder"`
	Favorite *bool     `json:"favorite"`
}

func (s *JournalService) CreateEntry(ctx context.Context, in NewEntry) (*store.Entry, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, store.ErrEmptyContent
	}
	e := &store.Entry{
		Title:    strings.TrimSpace(in.Title),
		Content:  in.Content,
		Tags:     in.Tags,
		Folder:   in.Folder,
		Favorite: in.Favorite,
	}
	if in.CreatedAt != nil {
		e.CreatedAt = in.CreatedAt.UTC()
	}
	if err := s.store.CreateEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to create entry: %w", err)
	}
	s.reindex(ctx, e)
	return e, nil
}

func (s *JournalService) GetEntry(ctx context.Context, id string) (*store.Entry, error) {
	return s.store.GetEntry(ctx, id)
}

// UpdateEntry applies patch and re-indexes when the title or content changed.
func (s *JournalService) UpdateEntry(ctx context.Context, id string, patch EntryPatch) (*store.Entry, error) {
	e, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	textChanged := false
	if patch.Title != nil && *patch.Title != e.Title {
		e.Title = strings.TrimSpace(*patch.Title)
		textChanged = true
	}
	if patch.Content != nil && *patch.Content != e.Content {
		if strings.TrimSpace(*patch.Content) == "" {
			return nil, store.ErrEmptyContent
		}
		e.Content = *patch.Content
		textChanged = true
	}
	if patch.Tags != nil {
		e.Tags = *patch.Tags
	}
	if patch.Folder != nil {
		e.Folder = *patch.Folder
	}
	if patch.Favorite != nil {
		e.Favorite = *patch.Favorite
	}
	e.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to update entry: %w", err)
	}
	if textChanged {
		s.reindex(ctx, e)
	}
	return e, nil
}

func (s *JournalService) DeleteEntry(ctx context.Context, id string) error {
	return s.store.DeleteEntry(ctx, id)
}

func (s *JournalService) ListEntries(ctx context.Context, filter store.EntryFilter) ([]store.Entry, error) {
	return s.store.ListEntries(ctx, filter)
}

func (s *JournalService) EntryCount(ctx context.Context) (int, error) {
	return s.store.EntryCount(ctx)
}

// SearchEntries is plain keyword search over title and body.
func (s *JournalService) SearchEntries(ctx context.Context, query string, filter store.EntryFilter) ([]store.TextHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, store.ErrEmptyQuery
	}
	return s.store.TextSearch(ctx, query, filter)
}

// ReindexAll re-chunks every entry. The new chunks are embedded by the worker.
func (s *JournalService) ReindexAll(ctx context.Context) (entries, chunks int, err error) {
	all, err := s.store.ListEntries(ctx, store.EntryFilter{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list entries for reindex: %w", err)
	}
	for i := range all {
		if err := ctx.Err(); err != nil {
			return entries, chunks, err
		}
		n, err := s.index.Index(ctx, &all[i])
		if err != nil {
			return entries, chunks, err
		}
		entries++
		chunks += n
	}
	s.logger.Info("reindexed journal", "entries", entries, "chunks", chunks)
	return entries, chunks, nil
}

// ImportFile loads a markdown entry written outside the API. It reports false
// when the stored entry already has the same title and body.
func (s *JournalService) ImportFile(ctx context.Context, path string) (*store.Entry, bool, error) {
	e, err := store.ReadEntryFile(path)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.store.GetEntry(ctx, e.ID)
	switch {
	case err == nil:
		if existing.Title == e.Title && strings.TrimRight(existing.Content, "\n") == e.Content {
			return existing, false, nil
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = existing.CreatedAt
		}
	case errors.Is(err, store.ErrEntryNotFound):
	default:
		return nil, false, err
	}

	if strings.TrimSpace(e.Content) == "" {
		return nil, false, store.ErrEmptyContent
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = fileTime(path)
	}
	if e.UpdatedAt.IsZero() || (existing != nil && !e.UpdatedAt.After(existing.UpdatedAt)) {
		e.UpdatedAt = time.Now().UTC()
	}

	if err := s.store.UpsertEntry(ctx, e); err != nil {
		return nil, false, fmt.Errorf("failed to import %s: %w", path, err)
	}
	s.reindex(ctx, e)
	s.logger.Info("imported journal file", "entry_id", e.ID, "path", path)
	return e, true, nil
}

// RemoveFile deletes the entry whose markdown file disappeared.
func (s *JournalService) RemoveFile(ctx context.Context, path string) error {
	id := store.EntryIDFromPath(path)
	err := s.store.DeleteEntry(ctx, id)
	if errors.Is(err, store.ErrEntryNotFound) {
		return nil
	}
	if err == nil {
		s.logger.Info("removed journal entry for deleted file", "entry_id", id, "path", path)
	}
	return err
}

func (s *JournalService) CreatePersona(ctx context.Context, name, systemPrompt string) (*store.Persona, error) {
	p := &store.Persona{Name: strings.TrimSpace(name), SystemPrompt: strings.TrimSpace(systemPrompt)}
	if err := s.store.CreatePersona(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *JournalService) ListPersonas(ctx context.Context) ([]store.Persona, error) {
	return s.store.ListPersonas(ctx)
}

// reindex failures leave the entry saved but unsearchable by similarity until
// the next ReindexAll, so they are logged rather than returned.
func (s *JournalService) reindex(ctx context.Context, e *store.Entry) {
	n, err := s.index.Index(ctx, e)
	if err != nil {
		s.logger.Error("failed to index entry", "entry_id", e.ID, "error", err)
		return
	}
	s.logger.Debug("indexed entry", "entry_id", e.ID, "chunks", n)
}

func fileTime(path string) time.Time {
	if info, err := os.Stat(path); err == nil {
		return info.ModTime().UTC()
	}
	return time.Now().UTC()
}
