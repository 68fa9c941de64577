package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/journal-companion/internal/chunker"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewSQLiteStore(filepath.Join(dir, "journal.db"), filepath.Join(dir, "entries"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func TestNewEntryID(t *testing.T) {
	ts := time.Date(2025, 5, 10, 14, 3, 7, 123456789, time.UTC)
	assert.Equal(t, "20250510140307123456", NewEntryID(ts))
}

func TestEntry_CreateGetUpdateDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &Entry{Title: "River walk", Content: "Cold wind by the river.", Tags: []string{"Walk", "walk ", "outdoors"}, CreatedAt: day(2025, 5, 1)}
	require.NoError(t, s.CreateEntry(ctx, e))
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, []string{"walk", "outdoors"}, e.Tags)
	assert.FileExists(t, e.FilePath)

	got, err := s.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "River walk", got.Title)
	assert.Equal(t, "Cold wind by the river.", got.Content)
	assert.True(t, got.CreatedAt.Equal(e.CreatedAt))

	got.Content = "Warm wind by the river."
	got.UpdatedAt = day(2025, 5, 2)
	require.NoError(t, s.UpdateEntry(ctx, got))

	fromFile, err := ReadEntryFile(got.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "Warm wind by the river.", fromFile.Content)
	assert.Equal(t, e.ID, fromFile.ID)

	require.NoError(t, s.DeleteEntry(ctx, e.ID))
	_, err = s.GetEntry(ctx, e.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.True(t, IsNotFound(err))
	_, statErr := os.Stat(e.FilePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestEntry_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetEntry(ctx, "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.ErrorIs(t, s.DeleteEntry(ctx, "missing"), ErrEntryNotFound)
	assert.ErrorIs(t, s.UpdateEntry(ctx, &Entry{ID: "missing"}), ErrEntryNotFound)
}

func TestEntry_UniqueIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := day(2025, 1, 1)

	a := &Entry{Title: "a", Content: "a", CreatedAt: ts}
	b := &Entry{Title: "b", Content: "b", CreatedAt: ts}
	require.NoError(t, s.CreateEntry(ctx, a))
	require.NoError(t, s.CreateEntry(ctx, b))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestListEntries_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, e := range []*Entry{
		{Title: "April", Content: "spring rain", CreatedAt: day(2025, 4, 20), Tags: []string{"weather"}},
		{Title: "May", Content: "first swim", CreatedAt: day(2025, 5, 3), Favorite: true, Folder: "summer"},
		{Title: "June", Content: "long days", CreatedAt: day(2025, 6, 1), Tags: []string{"weather", "light"}},
	} {
		require.NoError(t, s.CreateEntry(ctx, e))
	}

	all, err := s.ListEntries(ctx, EntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "June", all[0].Title)

	inRange, err := s.ListEntries(ctx, EntryFilter{
		DateFrom: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2025, 5, 31, 23, 59, 59, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, inRange, 1)
	assert.Equal(t, "May", inRange[0].Title)

	tagged, err := s.ListEntries(ctx, EntryFilter{Tags: []string{"WEATHER"}})
	require.NoError(t, err)
	assert.Len(t, tagged, 2)

	fav, err := s.ListEntries(ctx, EntryFilter{FavoriteOnly: true})
	require.NoError(t, err)
	require.Len(t, fav, 1)
	assert.Equal(t, "summer", fav[0].Folder)

	page, err := s.ListEntries(ctx, EntryFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "May", page[0].Title)
}

func TestTextSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateEntry(ctx, &Entry{Title: "Hike", Content: "Mountain hike with Anna", CreatedAt: day(2025, 3, 1)}))
	require.NoError(t, s.CreateEntry(ctx, &Entry{Title: "Market", Content: "Bought bread", CreatedAt: day(2025, 3, 2)}))
	require.NoError(t, s.CreateEntry(ctx, &Entry{Title: "Mountain", Content: "Snow on the mountain", CreatedAt: day(2025, 3, 3)}))

	hits, err := s.TextSearch(ctx, "mountain hike", EntryFilter{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "Hike", hits[0].Entry.Title)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.5, hits[1].Score, 1e-9)

	filtered, err := s.TextSearch(ctx, "mountain", EntryFilter{DateFrom: day(2025, 3, 3)})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Mountain", filtered[0].Entry.Title)

	none, err := s.TextSearch(ctx, "", EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTextSearch_WildcardsMatchLiterally(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateEntry(ctx, &Entry{Title: "Sale", Content: "Saved 50% on boots", CreatedAt: day(2025, 3, 1)}))
	require.NoError(t, s.CreateEntry(ctx, &Entry{Title: "Game", Content: "Scored 500 points", CreatedAt: day(2025, 3, 2)}))
	require.NoError(t, s.CreateEntry(ctx, &Entry{Title: "Code", Content: "Renamed a_b to total", CreatedAt: day(2025, 3, 3)}))
	require.NoError(t, s.CreateEntry(ctx, &Entry{Title: "Song", Content: "Sang the axb verse", CreatedAt: day(2025, 3, 4)}))

	percent, err := s.TextSearch(ctx, "50%", EntryFilter{})
	require.NoError(t, err)
	require.Len(t, percent, 1)
	assert.Equal(t, "Sale", percent[0].Entry.Title)

	underscore, err := s.TextSearch(ctx, "a_b", EntryFilter{})
	require.NoError(t, err)
	require.Len(t, underscore, 1)
	assert.Equal(t, "Code", underscore[0].Entry.Title)

	none, err := s.TextSearch(ctx, "%%%", EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChunks_ReplacePendingAttach(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunks := []chunker.Chunk{
		{Index: 0, Text: "first", Start: 0, End: 5},
		{Index: 1, Text: "second", Start: 6, End: 12},
	}
	require.NoError(t, s.ReplaceChunks(ctx, "e1", chunks))

	pending, err := s.PendingChunks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "first", pending[0].Text)

	missing, err := s.SetChunkEmbeddings(ctx, "e1", map[int][]float32{0: {1, 2, 3}, 7: {1, 1, 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{7}, missing)

	total, pendingCount, err := s.ChunkStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, pendingCount)

	embedded, err := s.EmbeddedChunksAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, embedded, 1)
	assert.Equal(t, 3, embedded[0].Dims)
	assert.Len(t, embedded[0].Embedding, 12)

	after, err := s.EmbeddedChunksAfter(ctx, embedded[0].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, after)

	// Replacing resets every embedding to pending.
	require.NoError(t, s.ReplaceChunks(ctx, "e1", chunks[:1]))
	total, pendingCount, err = s.ChunkStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, pendingCount)

	require.NoError(t, s.DeleteChunks(ctx, "e1"))
	rows, err := s.ChunksForEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmbeddingCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.CachedEmbedding(ctx, "hello", "m1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutCachedEmbedding(ctx, "hello", "m1", []float32{0.5, 0.25}))
	vec, ok, err := s.CachedEmbedding(ctx, "hello", "m1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.5, 0.25}, vec)

	_, ok, err = s.CachedEmbedding(ctx, "hello", "m2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutCachedEmbedding(ctx, "other", "m1", []float32{1}))
	removed, err := s.PruneEmbeddingCache(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestSessions_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	title := "Reflections"
	sess, err := s.CreateSession(ctx, &title, nil)
	require.NoError(t, err)

	chunk := 2
	require.NoError(t, s.AddMessage(ctx, &ChatMessage{SessionID: sess.ID, Role: RoleUser, Content: "How was April?"}))
	require.NoError(t, s.AddMessage(ctx, &ChatMessage{
		SessionID: sess.ID,
		Role:      RoleAssistant,
		Content:   "April was rainy [1].",
		References: []EntryReference{
			{EntryID: "e1", ChunkIndex: &chunk, Score: 0.9, Title: "Rain", Snippet: "rain", EntryDate: day(2025, 4, 2)},
			{EntryID: "e2", Score: 0.4, Title: "Walk", Snippet: "walk", EntryDate: day(2025, 4, 3)},
		},
	}))

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, EstimateTokens("How was April?"), msgs[0].TokenCount)
	require.Len(t, msgs[1].References, 2)
	assert.Equal(t, "e1", msgs[1].References[0].EntryID)
	require.NotNil(t, msgs[1].References[0].ChunkIndex)
	assert.Equal(t, 2, *msgs[1].References[0].ChunkIndex)
	assert.Nil(t, msgs[1].References[1].ChunkIndex)

	require.NoError(t, s.UpdateSessionSummary(ctx, sess.ID, "We talked about April."))
	from, to := day(2025, 4, 1), day(2025, 4, 30)
	require.NoError(t, s.SetSessionFilter(ctx, sess.ID, &from, &to))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ContextSummary)
	assert.Equal(t, "We talked about April.", *got.ContextSummary)
	require.NotNil(t, got.DateFrom)
	assert.True(t, got.DateFrom.Equal(from))

	require.NoError(t, s.UpdateSessionSummary(ctx, sess.ID, ""))
	require.NoError(t, s.SetSessionFilter(ctx, sess.ID, nil, nil))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ContextSummary)
	assert.Nil(t, got.DateFrom)

	assert.ErrorIs(t, s.SetSessionFilter(ctx, sess.ID, &to, &from), ErrInvalidDateRange)

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	_, err = s.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.DeleteSession(ctx, sess.ID), ErrSessionNotFound)
}

func TestAddMessage_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.AddMessage(ctx, &ChatMessage{SessionID: "x", Role: "model", Content: "hi"}), ErrInvalidRole)
	assert.ErrorIs(t, s.AddMessage(ctx, &ChatMessage{SessionID: "x", Role: RoleUser, Content: "hi"}), ErrSessionNotFound)
}

func TestPersonas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Persona{Name: "Coach", SystemPrompt: "You are an encouraging coach."}
	require.NoError(t, s.CreatePersona(ctx, p))

	got, err := s.GetPersona(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Coach", got.Name)

	list, err := s.ListPersonas(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetPersona(ctx, "nope")
	assert.ErrorIs(t, err, ErrPersonaNotFound)

	err = s.CreatePersona(ctx, &Persona{Name: "Empty"})
	assert.True(t, IsValidation(err))
}
