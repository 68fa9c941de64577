package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gwi.com/journal-companion/internal/chunker"
	"gwi.com/journal-companion/internal/store"
)

var testVocab = []string{"hiking", "mountain", "coffee", "rain", "dog", "beach", "work", "garden"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wordEmbedder counts vocabulary words, so texts sharing words are similar and
// texts without any vocabulary word embed to a zero vector.
type wordEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (w *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	lower := strings.ToLower(text)
	vec := make([]float32, len(testVocab))
	for i, word := range testVocab {
		vec[i] = float32(strings.Count(lower, word))
	}
	return vec, nil
}

func (w *wordEmbedder) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

// scriptedEmbedder returns the queued results in order, then repeats the last one.
type scriptedEmbedder struct {
	mu      sync.Mutex
	results []embedResult
	calls   int
}

type embedResult struct {
	vec []float32
	err error
}

func (s *scriptedEmbedder) Embed(context.Context, string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	return r.vec, r.err
}

// fakeCompleter records the turns it was asked to complete.
type fakeCompleter struct {
	mu     sync.Mutex
	reply  string
	err    error
	calls  [][]Turn
	titles []string
}

func (f *fakeCompleter) Complete(_ context.Context, turns []Turn, _ float32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, turns)
	return f.reply, f.err
}

func (f *fakeCompleter) GenerateTitle(_ context.Context, basis string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, basis)
	return "\"Mountain Memories\"", nil
}

func (f *fakeCompleter) Calls() [][]Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]Turn(nil), f.calls...)
}

var errBoom = errors.New("boom")

func newCoreStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "journal.db"), filepath.Join(dir, "entries"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type testJournal struct {
	store    *store.SQLiteStore
	index    *VectorIndex
	journal  *JournalService
	embedder *wordEmbedder
	worker   *EmbeddingWorker
}

func newTestJournal(t *testing.T) *testJournal {
	t.Helper()
	st := newCoreStore(t)
	idx := NewVectorIndex(st, len(testVocab), chunker.DefaultOptions(), discardLogger())
	emb := &wordEmbedder{}
	return &testJournal{
		store:    st,
		index:    idx,
		journal:  NewJournalService(st, idx, discardLogger()),
		embedder: emb,
		worker:   NewEmbeddingWorker(idx, emb, st, EmbeddingWorkerOptions{}, discardLogger()),
	}
}

// add creates an entry and embeds its chunks.
func (j *testJournal) add(t *testing.T, title, content string, created time.Time) *store.Entry {
	t.Helper()
	ctx := context.Background()
	e, err := j.journal.CreateEntry(ctx, NewEntry{Title: title, Content: content, CreatedAt: &created})
	require.NoError(t, err)
	_, err = j.worker.ProcessPending(ctx)
	require.NoError(t, err)
	return e
}

func (j *testJournal) retriever() *RAGService {
	return NewRAGService(j.index, j.store, j.embedder, j.embedder, discardLogger())
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

// seedJournal adds four entries with distinct topics.
func seedJournal(t *testing.T, j *testJournal) (hike, coffee, beach, work *store.Entry) {
	t.Helper()
	hike = j.add(t, "Mountain hike", "We went hiking up the mountain trail. The mountain view was clear.", date(2025, 3, 2))
	coffee = j.add(t, "Morning coffee", "Coffee on the porch while rain fell. The dog slept.", date(2025, 4, 10))
	beach = j.add(t, "Beach day", "The dog ran on the beach all afternoon.", date(2024, 7, 15))
	work = j.add(t, "Busy week", "Long day at work, deadlines everywhere.", date(2025, 5, 1))
	return hike, coffee, beach, work
}
