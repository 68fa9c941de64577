package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gwi.com/journal-companion/internal/core"
	"gwi.com/journal-companion/internal/store"
	"gwi.com/journal-companion/internal/temporal"
)

// JournalService is the entry and persona surface the handlers use.
type JournalService interface {
	CreateEntry(ctx context.Context, in core.NewEntry) (*store.Entry, error)
	GetEntry(ctx context.Context, id string) (*store.Entry, error)
	UpdateEntry(ctx context.Context, id string, patch core.EntryPatch) (*store.Entry, error)
	DeleteEntry(ctx context.Context, id string) error
	ListEntries(ctx context.Context, filter store.EntryFilter) ([]store.Entry, error)
	SearchEntries(ctx context.Context, query string, filter store.EntryFilter) ([]store.TextHit, error)
	CreatePersona(ctx context.Context, name, systemPrompt string) (*store.Persona, error)
	ListPersonas(ctx context.Context) ([]store.Persona, error)
	EntryCount(ctx context.Context) (int, error)
}

// ChatService is the session and messaging surface the handlers use.
type ChatService interface {
	CreateSession(ctx context.Context, title, personaID *string) (*store.ChatSession, error)
	ListSessions(ctx context.Context) ([]store.ChatSession, error)
	GetSession(ctx context.Context, id string) (*store.ChatSession, []store.ChatMessage, error)
	DeleteSession(ctx context.Context, id string) error
	SetSessionFilter(ctx context.Context, id string, r *temporal.DateRange) (*store.ChatSession, error)
	ClearSummary(ctx context.Context, id string) error
	PostMessage(ctx context.Context, sessionID, content string) (*core.PostResult, error)
}

type HandlerOptions struct {
	Retrieval core.RetrievalConfig
	// Now resolves relative date expressions. Defaults to time.Now.
	Now func() time.Time
}

type APIHandler struct {
	journal   JournalService
	chat      ChatService
	retriever core.Retriever
	retrieval core.RetrievalConfig
	now       func() time.Time
	logger    *slog.Logger
}

func NewAPIHandler(journal JournalService, chat ChatService, retriever core.Retriever, opts HandlerOptions, logger *slog.Logger) *APIHandler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{
		journal:   journal,
		chat:      chat,
		retriever: retriever,
		retrieval: opts.Retrieval,
		now:       opts.Now,
		logger:    logger,
	}
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	count, err := h.journal.EntryCount(r.Context())
	if err != nil {
		h.fail(w, r, "health check failed", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"status": "ok", "entries": count})
}

// fail logs unexpected errors before writing the mapped response.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if DomainErrorToHTTP(err) == http.StatusInternalServerError {
		h.logger.Error(msg, "error", err, "method", r.Method, "path", r.URL.Path, "request_id", GetRequestID(r.Context()))
	}
	HandleError(w, err)
}

// Entries

func (h *APIHandler) CreateEntryHandler(w http.ResponseWriter, r *http.Request) {
	var req core.NewEntry
	if err := decodeJSON(r, &req, false); err != nil {
		HandleError(w, err)
		return
	}
	entry, err := h.journal.CreateEntry(r.Context(), req)
	if err != nil {
		h.fail(w, r, "failed to create entry", err)
		return
	}
	JSON(w, http.StatusCreated, entry)
}

func (h *APIHandler) ListEntriesHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := entryFilterFromQuery(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	entries, err := h.journal.ListEntries(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "failed to list entries", err)
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	JSON(w, http.StatusOK, entries)
}

func (h *APIHandler) SearchEntriesHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := entryFilterFromQuery(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	hits, err := h.journal.SearchEntries(r.Context(), r.URL.Query().Get("q"), filter)
	if err != nil {
		h.fail(w, r, "failed to search entries", err)
		return
	}
	if hits == nil {
		hits = []store.TextHit{}
	}
	JSON(w, http.StatusOK, hits)
}

func (h *APIHandler) GetEntryHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := h.journal.GetEntry(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		h.fail(w, r, "failed to get entry", err)
		return
	}
	JSON(w, http.StatusOK, entry)
}

func (h *APIHandler) UpdateEntryHandler(w http.ResponseWriter, r *http.Request) {
	var patch core.EntryPatch
	if err := decodeJSON(r, &patch, false); err != nil {
		HandleError(w, err)
		return
	}
	entry, err := h.journal.UpdateEntry(r.Context(), chi.URLParam(r, "entryID"), patch)
	if err != nil {
		h.fail(w, r, "failed to update entry", err)
		return
	}
	JSON(w, http.StatusOK, entry)
}

func (h *APIHandler) DeleteEntryHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.journal.DeleteEntry(r.Context(), chi.URLParam(r, "entryID")); err != nil {
		h.fail(w, r, "failed to delete entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Retrieval

type SearchRequest struct {
	Query    string `json:"query"`
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type SearchResponse struct {
	Results    []store.EntryReference `json:"results"`
	DateFilter *temporal.DateRange    `json:"date_filter,omitempty"`
}

// SearchHandler runs hybrid retrieval. Explicit dates win over a date
// expression found in the query.
func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeJSON(r, &req, false); err != nil {
		HandleError(w, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		HandleError(w, store.ErrEmptyQuery)
		return
	}
	explicit, err := parseRange(req.DateFrom, req.DateTo)
	if err != nil {
		HandleError(w, err)
		return
	}
	in := core.RetrieveInput{Query: req.Query, SessionFilter: explicit}
	if explicit == nil {
		in.MessageFilter = temporal.NewParser(h.now()).Parse(req.Query)
	}

	cfg := h.retrieval
	if req.Limit > 0 {
		cfg.Limit = req.Limit
	}
	refs, err := h.retriever.Retrieve(r.Context(), in, cfg)
	if err != nil {
		h.fail(w, r, "failed to search journal", err)
		return
	}
	if refs == nil {
		refs = []store.EntryReference{}
	}
	resp := SearchResponse{Results: refs, DateFilter: in.SessionFilter}
	if resp.DateFilter == nil {
		resp.DateFilter = in.MessageFilter
	}
	JSON(w, http.StatusOK, resp)
}

type ParseDateRequest struct {
	Text string `json:"text"`
}

type ParseDateResponse struct {
	DateRange *temporal.DateRange `json:"date_range"`
}

func (h *APIHandler) ParseDateHandler(w http.ResponseWriter, r *http.Request) {
	var req ParseDateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		HandleError(w, err)
		return
	}
	JSON(w, http.StatusOK, ParseDateResponse{DateRange: temporal.NewParser(h.now()).Parse(req.Text)})
}

// Personas

type CreatePersonaRequest struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
}

func (h *APIHandler) CreatePersonaHandler(w http.ResponseWriter, r *http.Request) {
	var req CreatePersonaRequest
	if err := decodeJSON(r, &req, false); err != nil {
		HandleError(w, err)
		return
	}
	persona, err := h.journal.CreatePersona(r.Context(), req.Name, req.SystemPrompt)
	if err != nil {
		h.fail(w, r, "failed to create persona", err)
		return
	}
	JSON(w, http.StatusCreated, persona)
}

func (h *APIHandler) ListPersonasHandler(w http.ResponseWriter, r *http.Request) {
	personas, err := h.journal.ListPersonas(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list personas", err)
		return
	}
	if personas == nil {
		personas = []store.Persona{}
	}
	JSON(w, http.StatusOK, personas)
}

// Sessions

type CreateSessionRequest struct {
	Title     *string `json:"title,omitempty"`
	PersonaID *string `json:"persona_id,omitempty"`
}

func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		HandleError(w, err)
		return
	}
	session, err := h.chat.CreateSession(r.Context(), req.Title, req.PersonaID)
	if err != nil {
		h.fail(w, r, "failed to create session", err)
		return
	}
	JSON(w, http.StatusCreated, session)
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chat.ListSessions(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []store.ChatSession{}
	}
	JSON(w, http.StatusOK, sessions)
}

type SessionDetailsResponse struct {
	*store.ChatSession
	Messages []store.ChatMessage `json:"messages"`
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, messages, err := h.chat.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, "failed to get session", err)
		return
	}
	if messages == nil {
		messages = []store.ChatMessage{}
	}
	JSON(w, http.StatusOK, SessionDetailsResponse{ChatSession: session, Messages: messages})
}

func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.fail(w, r, "failed to delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decodeJSON(r, &req, false); err != nil {
		HandleError(w, err)
		return
	}
	result, err := h.chat.PostMessage(r.Context(), chi.URLParam(r, "sessionID"), req.Content)
	if err != nil {
		h.fail(w, r, "failed to post message", err)
		return
	}
	JSON(w, http.StatusCreated, result)
}

// SessionFilterRequest sets the filter either from a date expression or
// from explicit bounds.
type SessionFilterRequest struct {
	Expression string `json:"expression,omitempty"`
	DateFrom   string `json:"date_from,omitempty"`
	DateTo     string `json:"date_to,omitempty"`
}

func (h *APIHandler) SetSessionFilterHandler(w http.ResponseWriter, r *http.Request) {
	var req SessionFilterRequest
	if err := decodeJSON(r, &req, false); err != nil {
		HandleError(w, err)
		return
	}

	var rng *temporal.DateRange
	if expr := strings.TrimSpace(req.Expression); expr != "" {
		rng = temporal.NewParser(h.now()).Parse(expr)
		if rng == nil {
			HandleError(w, store.NewDomainError(store.ErrCodeValidation, fmt.Sprintf("no date range recognized in %q", expr)))
			return
		}
	} else {
		var err error
		if rng, err = parseRange(req.DateFrom, req.DateTo); err != nil {
			HandleError(w, err)
			return
		}
		if rng == nil {
			HandleError(w, store.NewDomainError(store.ErrCodeValidation, "expression or date_from/date_to is required"))
			return
		}
	}

	session, err := h.chat.SetSessionFilter(r.Context(), chi.URLParam(r, "sessionID"), rng)
	if err != nil {
		h.fail(w, r, "failed to set session filter", err)
		return
	}
	JSON(w, http.StatusOK, session)
}

func (h *APIHandler) ClearSessionFilterHandler(w http.ResponseWriter, r *http.Request) {
	session, err := h.chat.SetSessionFilter(r.Context(), chi.URLParam(r, "sessionID"), nil)
	if err != nil {
		h.fail(w, r, "failed to clear session filter", err)
		return
	}
	JSON(w, http.StatusOK, session)
}

func (h *APIHandler) ClearSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.ClearSummary(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.fail(w, r, "failed to clear summary", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func entryFilterFromQuery(r *http.Request) (store.EntryFilter, error) {
	q := r.URL.Query()
	var filter store.EntryFilter

	rng, err := parseRange(q.Get("date_from"), q.Get("date_to"))
	if err != nil {
		return filter, err
	}
	if rng != nil {
		filter.DateFrom, filter.DateTo = rng.From, rng.To
	}
	for _, v := range q["tag"] {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}
	filter.Folder = q.Get("folder")
	filter.FavoriteOnly = q.Get("favorite") == "true"

	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		return filter, err
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		return filter, err
	}
	return filter, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, store.NewDomainError(store.ErrCodeValidation, fmt.Sprintf("invalid number %q", v))
	}
	return n, nil
}

// parseRange reads optional bounds. Bare dates cover the whole day, which
// makes date_to inclusive. Returns nil when both are empty.
func parseRange(from, to string) (*temporal.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	var rng temporal.DateRange
	var err error
	if from != "" {
		if rng.From, err = parseDate(from, false); err != nil {
			return nil, err
		}
	}
	if to != "" {
		if rng.To, err = parseDate(to, true); err != nil {
			return nil, err
		}
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && rng.From.After(rng.To) {
		return nil, store.ErrInvalidDateRange
	}
	return &rng, nil
}

func parseDate(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, store.NewDomainErrorWithCause(store.ErrCodeValidation, fmt.Sprintf("invalid date %q, want YYYY-MM-DD or RFC 3339", v), err)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
