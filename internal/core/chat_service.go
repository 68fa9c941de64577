package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gwi.com/journal-companion/internal/store"
	"gwi.com/journal-companion/internal/telemetry"
	"gwi.com/journal-companion/internal/temporal"
)

const (
	apologyText      = "I'm sorry, I encountered an error while processing your request. Please try again."
	chatTemperature  = 0.7
	titleTimeout     = 30 * time.Second
	maxTitleBasisLen = 500
)

// ChatStore is the session and message persistence the chat service needs.
type ChatStore interface {
	SessionStore
	CreateSession(ctx context.Context, title, personaID *string) (*store.ChatSession, error)
	GetSession(ctx context.Context, id string) (*store.ChatSession, error)
	ListSessions(ctx context.Context) ([]store.ChatSession, error)
	DeleteSession(ctx context.Context, id string) error
	UpdateSessionTitle(ctx context.Context, id, title string) error
	SetSessionFilter(ctx context.Context, id string, from, to *time.Time) error
	AddMessage(ctx context.Context, msg *store.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]store.ChatMessage, error)
}

// Retriever ranks journal references for a chat turn.
type Retriever interface {
	Retrieve(ctx context.Context, in RetrieveInput, cfg RetrievalConfig) ([]store.EntryReference, error)
}

type ChatService struct {
	store     ChatStore
	retriever Retriever
	builder   *ContextBuilder
	llm       ChatCompleter
	titles    TitleGenerator
	retrieval RetrievalConfig
	now       func() time.Time
	logger    *slog.Logger

	// titleJobs tracks background title generation so shutdown and tests can wait.
	titleJobs sync.WaitGroup
}

type ChatServiceOptions struct {
	Retrieval RetrievalConfig
	// Now is the clock used to resolve temporal expressions. Defaults to time.Now.
	Now func() time.Time
}

func NewChatService(st ChatStore, retriever Retriever, builder *ContextBuilder, llm ChatCompleter, titles TitleGenerator, opts ChatServiceOptions, logger *slog.Logger) *ChatService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		store:     st,
		retriever: retriever,
		builder:   builder,
		llm:       llm,
		titles:    titles,
		retrieval: opts.Retrieval.withDefaults(),
		now:       opts.Now,
		logger:    logger,
	}
}

// PostResult is the stored assistant reply plus what shaped it.
type PostResult struct {
	UserMessage      store.ChatMessage   `json:"user_message"`
	AssistantMessage store.ChatMessage   `json:"assistant_message"`
	DateFilter       *temporal.DateRange `json:"date_filter,omitempty"`
}

func (s *ChatService) CreateSession(ctx context.Context, title, personaID *string) (*store.ChatSession, error) {
	if personaID != nil && *personaID != "" {
		if _, err := s.store.GetPersona(ctx, *personaID); err != nil {
			return nil, err
		}
	}
	if title != nil && strings.TrimSpace(*title) == "" {
		title = nil
	}
	session, err := s.store.CreateSession(ctx, title, personaID)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat session: %w", err)
	}
	return session, nil
}

func (s *ChatService) ListSessions(ctx context.Context) ([]store.ChatSession, error) {
	return s.store.ListSessions(ctx)
}

// GetSession returns the session with its messages and their references.
func (s *ChatService) GetSession(ctx context.Context, id string) (*store.ChatSession, []store.ChatMessage, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get messages for session: %w", err)
	}
	return session, messages, nil
}

func (s *ChatService) DeleteSession(ctx context.Context, id string) error {
	return s.store.DeleteSession(ctx, id)
}

// SetSessionFilter pins retrieval for the session to r. A nil or zero r clears it.
func (s *ChatService) SetSessionFilter(ctx context.Context, id string, r *temporal.DateRange) (*store.ChatSession, error) {
	var from, to *time.Time
	if r != nil {
		if !r.From.IsZero() {
			from = &r.From
		}
		if !r.To.IsZero() {
			to = &r.To
		}
	}
	if err := s.store.SetSessionFilter(ctx, id, from, to); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, id)
}

// ClearSummary drops the rolling summary; the next long turn synthesizes a new one.
func (s *ChatService) ClearSummary(ctx context.Context, id string) error {
	return s.store.UpdateSessionSummary(ctx, id, "")
}

// PostMessage stores the user's message, answers it from the journal and
// stores the reply with its references. A failing chat model yields an
// apology reply rather than an error.
func (s *ChatService) PostMessage(ctx context.Context, sessionID, content string) (*PostResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, store.ErrEmptyContent
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}

	userMsg := store.ChatMessage{SessionID: sessionID, Role: store.RoleUser, Content: content}
	if err := s.store.AddMessage(ctx, &userMsg); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	messageFilter := temporal.NewParser(s.now()).Parse(content)
	in := RetrieveInput{Query: content, SessionFilter: sessionRange(session), MessageFilter: messageFilter}
	refs, err := s.retriever.Retrieve(ctx, in, s.retrieval)
	if err != nil {
		s.logger.Warn("retrieval failed, answering without references", "session_id", sessionID, "error", err)
		refs = nil
	}

	reply := s.answer(ctx, session, history, content, refs)

	assistantMsg := store.ChatMessage{
		SessionID:  sessionID,
		Role:       store.RoleAssistant,
		Content:    reply,
		References: refs,
	}
	if err := s.store.AddMessage(ctx, &assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}

	if session.Title == nil || *session.Title == "" {
		s.generateTitleAsync(ctx, sessionID, content)
	}

	result := &PostResult{UserMessage: userMsg, AssistantMessage: assistantMsg}
	if in.SessionFilter != nil {
		result.DateFilter = in.SessionFilter
	} else {
		result.DateFilter = messageFilter
	}
	return result, nil
}

func (s *ChatService) answer(ctx context.Context, session *store.ChatSession, history []store.ChatMessage, content string, refs []store.EntryReference) string {
	turns, err := s.builder.Build(ctx, session, history, content, refs)
	if err != nil {
		s.logger.Error("failed to build conversation context", "session_id", session.ID, "error", err)
		telemetry.CaptureError(ctx, err, map[string]string{"component": "chat", "stage": "context"})
		return apologyText
	}
	reply, err := s.llm.Complete(ctx, turns, chatTemperature)
	if err != nil {
		s.logger.Error("error generating reply", "session_id", session.ID, "error", err)
		telemetry.CaptureError(ctx, err, map[string]string{"component": "chat", "stage": "completion"})
		return apologyText
	}
	return Annotate(reply, refs)
}

func sessionRange(session *store.ChatSession) *temporal.DateRange {
	if session.DateFrom == nil && session.DateTo == nil {
		return nil
	}
	r := &temporal.DateRange{}
	if session.DateFrom != nil {
		r.From = *session.DateFrom
	}
	if session.DateTo != nil {
		r.To = *session.DateTo
	}
	return r
}

func (s *ChatService) generateTitleAsync(ctx context.Context, sessionID, basis string) {
	if s.titles == nil {
		return
	}
	if r := []rune(basis); len(r) > maxTitleBasisLen {
		basis = string(r[:maxTitleBasisLen])
	}
	// Detach from the request so the title survives the response being written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), titleTimeout)
	s.titleJobs.Add(1)
	go func() {
		defer s.titleJobs.Done()
		defer cancel()
		s.generateAndSaveTitle(ctx, sessionID, basis)
	}()
}

func (s *ChatService) generateAndSaveTitle(ctx context.Context, sessionID, basis string) {
	title, err := s.titles.GenerateTitle(ctx, basis)
	if err != nil {
		s.logger.Warn("failed to generate session title", "session_id", sessionID, "error", err)
		return
	}
	title = strings.Trim(title, "\"'\n\r\t .")
	if title == "" {
		return
	}
	if err := s.store.UpdateSessionTitle(ctx, sessionID, title); err != nil {
		s.logger.Warn("failed to save generated title", "session_id", sessionID, "title", title, "error", err)
		return
	}
	s.logger.Info("generated session title", "session_id", sessionID, "title", title)
}

// Wait blocks until background title generation has finished.
func (s *ChatService) Wait() {
	s.titleJobs.Wait()
}
