package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gwi.com/journal-companion/internal/chunker"
	"gwi.com/journal-companion/internal/store"
	"gwi.com/journal-companion/internal/telemetry"
	"gwi.com/journal-companion/internal/temporal"
	"gwi.com/journal-companion/internal/utils"
)

const (
	DefaultRetrievalLimit = 5
	DefaultMaxLimit       = 10
	DefaultMinCandidates  = 20
	DefaultDedupThreshold = 0.8
	DefaultSnippetLength  = 200
	semanticWeight        = 0.6
	keywordWeight         = 0.4
)

var errNoQuerySignal = errors.New("query embedding unavailable")

// EntrySource is the read side of the entry store used by retrieval.
type EntrySource interface {
	GetEntries(ctx context.Context, ids []string) (map[string]*store.Entry, error)
	ListEntries(ctx context.Context, filter store.EntryFilter) ([]store.Entry, error)
	TextSearch(ctx context.Context, query string, filter store.EntryFilter) ([]store.TextHit, error)
}

type RetrievalConfig struct {
	// Limit is clamped to MaxLimit.
	Limit int
	// MaxLimit and MinCandidates size the candidate pool. The pool does not
	// depend on Limit, so results at a smaller limit are a prefix of results
	// at a larger one.
	MaxLimit        int
	MinCandidates   int
	DedupThreshold  float64
	SnippetLength   int
	Chunk           chunker.Options
	SearchBatchSize int
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Limit:          DefaultRetrievalLimit,
		MaxLimit:       DefaultMaxLimit,
		MinCandidates:  DefaultMinCandidates,
		DedupThreshold: DefaultDedupThreshold,
		SnippetLength:  DefaultSnippetLength,
		Chunk:          chunker.DefaultOptions(),
	}
}

func (c RetrievalConfig) withDefaults() RetrievalConfig {
	d := DefaultRetrievalConfig()
	if c.Limit <= 0 {
		c.Limit = d.Limit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	c.Limit = min(c.Limit, c.MaxLimit)
	if c.MinCandidates <= 0 {
		c.MinCandidates = d.MinCandidates
	}
	if c.DedupThreshold <= 0 {
		c.DedupThreshold = d.DedupThreshold
	}
	if c.SnippetLength <= 0 {
		c.SnippetLength = d.SnippetLength
	}
	if c.Chunk.Size <= 0 {
		c.Chunk = d.Chunk
	}
	return c
}

func (c RetrievalConfig) poolSize() int {
	return max(2*c.MaxLimit, c.MinCandidates)
}

// RetrieveInput is one retrieval request. SessionFilter wins over MessageFilter.
type RetrieveInput struct {
	Query         string
	SessionFilter *temporal.DateRange
	MessageFilter *temporal.DateRange
}

// RAGService ranks journal passages for a query by blending cosine similarity
// with keyword overlap.
type RAGService struct {
	index         *VectorIndex
	entries       EntrySource
	queryEmbedder Embedder
	chunkEmbedder Embedder
	logger        *slog.Logger
}

// NewRAGService wires retrieval. chunkEmbedder embeds re-chunked passages and is
// normally a CachedEmbedder so repeated passages are not re-embedded.
func NewRAGService(index *VectorIndex, entries EntrySource, queryEmbedder, chunkEmbedder Embedder, logger *slog.Logger) *RAGService {
	if logger == nil {
		logger = slog.Default()
	}
	if chunkEmbedder == nil {
		chunkEmbedder = queryEmbedder
	}
	return &RAGService{
		index:         index,
		entries:       entries,
		queryEmbedder: queryEmbedder,
		chunkEmbedder: chunkEmbedder,
		logger:        logger,
	}
}

type passage struct {
	entry      store.Entry
	chunkIndex int
	text       string
	score      float64
}

// Retrieve returns up to cfg.Limit references. Provider and storage failures
// degrade to entry-level semantic search, then to keyword search; only an
// empty query is reported as an error.
func (s *RAGService) Retrieve(ctx context.Context, in RetrieveInput, cfg RetrievalConfig) ([]store.EntryReference, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, store.ErrEmptyQuery
	}
	cfg = cfg.withDefaults()
	filter := effectiveFilter(in)

	refs, err := s.hybrid(ctx, query, filter, cfg)
	if err == nil {
		return refs, nil
	}
	s.logger.Warn("hybrid retrieval failed, falling back to semantic search", "error", err)
	telemetry.CaptureError(ctx, err, map[string]string{"component": "retrieval", "stage": "hybrid"})

	refs, err = s.semanticFallback(ctx, query, filter, cfg)
	if err == nil {
		return refs, nil
	}
	s.logger.Warn("semantic fallback failed, falling back to text search", "error", err)

	refs, err = s.textFallback(ctx, query, filter, cfg)
	if err != nil {
		s.logger.Error("text search fallback failed, returning no references", "error", err)
		telemetry.CaptureError(ctx, err, map[string]string{"component": "retrieval", "stage": "text"})
		return []store.EntryReference{}, nil
	}
	return refs, nil
}

func effectiveFilter(in RetrieveInput) *temporal.DateRange {
	if in.SessionFilter != nil && !in.SessionFilter.IsZero() {
		return in.SessionFilter
	}
	if in.MessageFilter != nil && !in.MessageFilter.IsZero() {
		return in.MessageFilter
	}
	return nil
}

func (s *RAGService) hybrid(ctx context.Context, query string, filter *temporal.DateRange, cfg RetrievalConfig) ([]store.EntryReference, error) {
	queryVec, err := s.queryEmbedder.Embed(ctx, query)
	semantic := err == nil && !utils.IsZero(queryVec)
	if !semantic {
		s.logger.Info("query embedding unavailable, scoring by keywords only", "error", err)
	}

	candidates, err := s.candidates(ctx, query, queryVec, semantic, filter, cfg)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []store.EntryReference{}, nil
	}

	keywords := utils.ExtractKeywords(query)
	var passages []passage
	for _, e := range candidates {
		for _, c := range chunker.ChunkWithPositions(entryText(&e), cfg.Chunk) {
			score := utils.KeywordScore(keywords, c.Text)
			if semantic {
				sim, err := s.passageSimilarity(ctx, queryVec, c.Text)
				if err != nil {
					return nil, err
				}
				score = semanticWeight*sim + keywordWeight*score
			}
			passages = append(passages, passage{entry: e, chunkIndex: c.Index, text: c.Text, score: score})
		}
	}

	rankPassages(passages)
	if filter == nil {
		passages = dropUnscored(passages)
	}
	kept := dedupPassages(passages, cfg.DedupThreshold)
	if len(kept) > cfg.Limit {
		kept = kept[:cfg.Limit]
	}

	refs := make([]store.EntryReference, 0, len(kept))
	for _, p := range kept {
		idx := p.chunkIndex
		refs = append(refs, store.EntryReference{
			EntryID:    p.entry.ID,
			ChunkIndex: &idx,
			Score:      p.score,
			Title:      p.entry.Title,
			Snippet:    makeSnippet(p.text, cfg.SnippetLength),
			EntryDate:  p.entry.CreatedAt,
		})
	}
	return refs, nil
}

// candidates gathers the entry pool: vector hits when the query embedded,
// keyword hits otherwise, plus in-range entries when a date filter is set.
func (s *RAGService) candidates(ctx context.Context, query string, queryVec []float32, semantic bool, filter *temporal.DateRange, cfg RetrievalConfig) ([]store.Entry, error) {
	pool := cfg.poolSize()
	seen := make(map[string]bool)
	var out []store.Entry
	add := func(e store.Entry) {
		if seen[e.ID] || (filter != nil && !filter.Contains(e.CreatedAt)) {
			return
		}
		seen[e.ID] = true
		out = append(out, e)
	}

	if semantic {
		hits, err := s.index.Search(ctx, queryVec, SearchOptions{Limit: pool * 4, BatchSize: cfg.SearchBatchSize})
		if err != nil {
			return nil, fmt.Errorf("vector search failed: %w", err)
		}
		for _, h := range hits {
			if len(out) >= pool {
				break
			}
			add(h.Entry)
		}
	} else {
		hits, err := s.entries.TextSearch(ctx, query, entryFilter(filter, pool))
		if err != nil {
			return nil, fmt.Errorf("text search failed: %w", err)
		}
		for _, h := range hits {
			add(h.Entry)
		}
	}

	if filter != nil {
		inRange, err := s.entries.ListEntries(ctx, entryFilter(filter, pool))
		if err != nil {
			return nil, fmt.Errorf("failed to list entries in range: %w", err)
		}
		for _, e := range inRange {
			add(e)
		}
	}
	return out, nil
}

func (s *RAGService) passageSimilarity(ctx context.Context, queryVec []float32, text string) (float64, error) {
	vec, err := s.chunkEmbedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("passage embedding failed: %w", err)
	}
	if utils.IsZero(vec) {
		return 0, nil
	}
	q := queryVec
	if len(q) != len(vec) {
		q, vec = utils.ReconcileDimensions(q, vec, true)
	}
	sim, err := utils.CosineSimilarity(q, vec)
	if err != nil {
		return 0, err
	}
	return max(float64(sim), 0), nil
}

// rankPassages sorts by score descending, then entry id and chunk index.
func rankPassages(ps []passage) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].score != ps[j].score {
			return ps[i].score > ps[j].score
		}
		if ps[i].entry.ID != ps[j].entry.ID {
			return ps[i].entry.ID < ps[j].entry.ID
		}
		return ps[i].chunkIndex < ps[j].chunkIndex
	})
}

// dropUnscored removes passages that matched neither semantically nor by
// keyword. With a date filter the range itself is the match, so they stay.
func dropUnscored(ps []passage) []passage {
	out := ps[:0]
	for _, p := range ps {
		if p.score > 0 {
			out = append(out, p)
		}
	}
	return out
}

// dedupPassages keeps the best passage of each entry, plus any further passage
// of an already kept entry that scores above threshold.
func dedupPassages(ranked []passage, threshold float64) []passage {
	kept := make([]passage, 0, len(ranked))
	seen := make(map[string]bool)
	for _, p := range ranked {
		if seen[p.entry.ID] && p.score <= threshold {
			continue
		}
		seen[p.entry.ID] = true
		kept = append(kept, p)
	}
	return kept
}

func (s *RAGService) semanticFallback(ctx context.Context, query string, filter *temporal.DateRange, cfg RetrievalConfig) ([]store.EntryReference, error) {
	queryVec, err := s.queryEmbedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if utils.IsZero(queryVec) {
		return nil, errNoQuerySignal
	}
	hits, err := s.index.Search(ctx, queryVec, SearchOptions{Limit: cfg.Limit * 4, BatchSize: cfg.SearchBatchSize})
	if err != nil {
		return nil, err
	}

	refs := make([]store.EntryReference, 0, cfg.Limit)
	seen := make(map[string]bool)
	for _, h := range hits {
		if len(refs) >= cfg.Limit {
			break
		}
		if seen[h.Entry.ID] || (filter != nil && !filter.Contains(h.Entry.CreatedAt)) {
			continue
		}
		seen[h.Entry.ID] = true
		idx := h.ChunkIndex
		refs = append(refs, store.EntryReference{
			EntryID:    h.Entry.ID,
			ChunkIndex: &idx,
			Score:      max(float64(h.Similarity), 0),
			Title:      h.Entry.Title,
			Snippet:    makeSnippet(h.ChunkText, cfg.SnippetLength),
			EntryDate:  h.Entry.CreatedAt,
		})
	}
	return refs, nil
}

func (s *RAGService) textFallback(ctx context.Context, query string, filter *temporal.DateRange, cfg RetrievalConfig) ([]store.EntryReference, error) {
	hits, err := s.entries.TextSearch(ctx, query, entryFilter(filter, cfg.poolSize()))
	if err != nil {
		return nil, err
	}
	if len(hits) > cfg.Limit {
		hits = hits[:cfg.Limit]
	}
	refs := make([]store.EntryReference, 0, len(hits))
	for _, h := range hits {
		refs = append(refs, store.EntryReference{
			EntryID:   h.Entry.ID,
			Score:     h.Score,
			Title:     h.Entry.Title,
			Snippet:   makeSnippet(h.Entry.Content, cfg.SnippetLength),
			EntryDate: h.Entry.CreatedAt,
		})
	}
	return refs, nil
}

func entryFilter(filter *temporal.DateRange, limit int) store.EntryFilter {
	f := store.EntryFilter{Limit: limit}
	if filter != nil {
		f.DateFrom = filter.From
		f.DateTo = filter.To
	}
	return f
}

// makeSnippet collapses whitespace and cuts to at most maxChars runes.
func makeSnippet(content string, maxChars int) string {
	clean := strings.Join(strings.Fields(content), " ")
	runes := []rune(clean)
	if len(runes) <= maxChars {
		return clean
	}
	return string(runes[:maxChars-3]) + "..."
}
