package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"gwi.com/journal-companion/internal/store"
)

const (
	DefaultSystemPrompt = "You are a thoughtful journaling companion. You help the user reflect on their " +
		"own journal entries. Answer from the provided journal excerpts when they are relevant, " +
		"say so plainly when they are not, and never invent entries."
	DefaultSummaryThreshold = 3000
	DefaultMinMessages      = 6
	DefaultWindowSize       = 4

	citationInstructions = "When you use information from a journal excerpt, cite it inline with its " +
		"bracketed number, for example [1]. Only cite excerpts listed below."
	summaryInstruction = "Summarize the conversation above in 3-4 sentences. Keep the facts, dates and " +
		"journal entries that were discussed, and the questions the user still cares about."
	summaryPrefix = "Summary of the earlier conversation:\n"
	referenceDate = "January 2, 2006"
	summaryTemp   = 0.3
)

var citationMarker = regexp.MustCompile(`\[\d+\]`)

type ContextConfig struct {
	SystemPrompt string
	Windowing    bool
	// SummaryThreshold is the estimated token count above which history is windowed.
	SummaryThreshold int
	MinMessages      int
	WindowSize       int
}

func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		SystemPrompt:     DefaultSystemPrompt,
		Windowing:        true,
		SummaryThreshold: DefaultSummaryThreshold,
		MinMessages:      DefaultMinMessages,
		WindowSize:       DefaultWindowSize,
	}
}

// SessionStore is what the context builder reads and writes on a session.
type SessionStore interface {
	GetPersona(ctx context.Context, id string) (*store.Persona, error)
	UpdateSessionSummary(ctx context.Context, sessionID, summary string) error
}

// ContextBuilder assembles the turns sent to the chat model.
type ContextBuilder struct {
	sessions   SessionStore
	summarizer ChatCompleter
	cfg        ContextConfig
	logger     *slog.Logger
}

func NewContextBuilder(sessions SessionStore, summarizer ChatCompleter, cfg ContextConfig, logger *slog.Logger) *ContextBuilder {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextBuilder{sessions: sessions, summarizer: summarizer, cfg: cfg, logger: logger}
}

// Build returns the system turn, the history (full or summary plus window) and
// the new user turn. history must not contain the new message. The session's
// ContextSummary is updated in place when a summary is synthesized.
func (b *ContextBuilder) Build(ctx context.Context, session *store.ChatSession, history []store.ChatMessage, userText string, refs []store.EntryReference) ([]Turn, error) {
	systemPrompt, err := b.systemPrompt(ctx, session)
	if err != nil {
		return nil, err
	}
	turns := []Turn{{Role: RoleSystem, Content: systemPrompt + referenceBlock(refs)}}

	if b.shouldWindow(history) {
		window := history[len(history)-min(b.cfg.WindowSize, len(history)):]
		if summary := b.summary(ctx, session, history); summary != "" {
			turns = append(turns, Turn{Role: RoleSystem, Content: summaryPrefix + summary})
		}
		turns = append(turns, messageTurns(window)...)
	} else {
		turns = append(turns, messageTurns(history)...)
	}

	return append(turns, Turn{Role: RoleUser, Content: userText}), nil
}

func (b *ContextBuilder) systemPrompt(ctx context.Context, session *store.ChatSession) (string, error) {
	if session == nil || session.PersonaID == nil || *session.PersonaID == "" {
		return b.cfg.SystemPrompt, nil
	}
	persona, err := b.sessions.GetPersona(ctx, *session.PersonaID)
	if err != nil {
		if errors.Is(err, store.ErrPersonaNotFound) {
			b.logger.Warn("session persona missing, using default prompt", "session_id", session.ID, "persona_id", *session.PersonaID)
			return b.cfg.SystemPrompt, nil
		}
		return "", fmt.Errorf("failed to load persona: %w", err)
	}
	return persona.SystemPrompt, nil
}

// shouldWindow is evaluated fresh on every turn; no mode is persisted.
func (b *ContextBuilder) shouldWindow(history []store.ChatMessage) bool {
	if !b.cfg.Windowing || len(history) < b.cfg.MinMessages {
		return false
	}
	return estimateHistoryTokens(history) > b.cfg.SummaryThreshold
}

func (b *ContextBuilder) summary(ctx context.Context, session *store.ChatSession, history []store.ChatMessage) string {
	if session.ContextSummary != nil && *session.ContextSummary != "" {
		return *session.ContextSummary
	}
	older := history[:len(history)-min(b.cfg.WindowSize, len(history))]
	if len(older) == 0 || b.summarizer == nil {
		return ""
	}

	turns := []Turn{{Role: RoleSystem, Content: "You write short, factual conversation summaries."}}
	turns = append(turns, messageTurns(older)...)
	turns = append(turns, Turn{Role: RoleUser, Content: summaryInstruction})

	summary, err := b.summarizer.Complete(ctx, turns, summaryTemp)
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		b.logger.Warn("failed to summarize conversation, using recent window only", "session_id", session.ID, "error", err)
		return ""
	}
	if err := b.sessions.UpdateSessionSummary(ctx, session.ID, summary); err != nil {
		b.logger.Warn("failed to persist conversation summary", "session_id", session.ID, "error", err)
	}
	session.ContextSummary = &summary
	return summary
}

func estimateHistoryTokens(history []store.ChatMessage) int {
	total := 0
	for _, m := range history {
		if m.TokenCount > 0 {
			total += m.TokenCount
		} else {
			total += store.EstimateTokens(m.Content)
		}
	}
	return total
}

func messageTurns(msgs []store.ChatMessage) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		role := RoleUser
		if m.Role == store.RoleAssistant {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: m.Content})
	}
	return turns
}

func referenceBlock(refs []store.EntryReference) string {
	if len(refs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\n")
	sb.WriteString(citationInstructions)
	sb.WriteString("\n\nJournal excerpts:\n")
	for i, ref := range refs {
		sb.WriteString(formatReference(i+1, ref))
	}
	return sb.String()
}

func formatReference(n int, ref store.EntryReference) string {
	chunk := ""
	if ref.ChunkIndex != nil {
		chunk = fmt.Sprintf(" (chunk %d)", *ref.ChunkIndex)
	}
	return fmt.Sprintf("[%d] Entry ID: %s%s - Date: %s (Relevance: %.2f)\nTitle: %s\nExcerpt: %s\n\n",
		n, ref.EntryID, chunk, ref.EntryDate.Format(referenceDate), ref.Score, ref.Title, ref.Snippet)
}

// Annotate appends a source note when the reply cites nothing although
// references were supplied. refs are ordered by relevance.
func Annotate(reply string, refs []store.EntryReference) string {
	if len(refs) == 0 || citationMarker.MatchString(reply) {
		return reply
	}
	top := refs[0]
	note := fmt.Sprintf("(Based on your journal entry from %s", top.EntryDate.Format(referenceDate))
	if top.Title != "" {
		note += fmt.Sprintf(", %q", top.Title)
	}
	return strings.TrimRight(reply, " \n") + "\n\n" + note + ".)"
}
