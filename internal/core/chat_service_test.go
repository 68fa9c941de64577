package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/journal-companion/internal/store"
	"gwi.com/journal-companion/internal/temporal"
)

var chatNow = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestChat(t *testing.T, j *testJournal, llm *fakeCompleter) *ChatService {
	t.Helper()
	builder := NewContextBuilder(j.store, llm, DefaultContextConfig(), discardLogger())
	return NewChatService(j.store, j.retriever(), builder, llm, llm,
		ChatServiceOptions{Now: func() time.Time { return chatNow }}, discardLogger())
}

func TestPostMessage_StoresGroundedReply(t *testing.T) {
	j := newTestJournal(t)
	hike, _, _, _ := seedJournal(t, j)
	llm := &fakeCompleter{reply: "You hiked up the mountain [1]."}
	chat := newTestChat(t, j, llm)
	ctx := context.Background()

	session, err := chat.CreateSession(ctx, nil, nil)
	require.NoError(t, err)

	res, err := chat.PostMessage(ctx, session.ID, "When did I go hiking on the mountain?")
	require.NoError(t, err)
	chat.Wait()

	assert.Equal(t, store.RoleUser, res.UserMessage.Role)
	assert.Equal(t, "You hiked up the mountain [1].", res.AssistantMessage.Content)
	require.Len(t, res.AssistantMessage.References, 1)
	assert.Equal(t, hike.ID, res.AssistantMessage.References[0].EntryID)
	assert.Nil(t, res.DateFilter)

	// The model saw the reference block and the question as the last turn.
	calls := llm.Calls()
	require.Len(t, calls, 1)
	turns := calls[0]
	assert.Contains(t, turns[0].Content, "Entry ID: "+hike.ID)
	assert.Equal(t, Turn{Role: RoleUser, Content: "When did I go hiking on the mountain?"}, turns[len(turns)-1])

	got, messages, err := chat.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Len(t, messages[1].References, 1)
	assert.Equal(t, hike.ID, messages[1].References[0].EntryID)
	require.NotNil(t, got.Title)
	assert.Equal(t, "Mountain Memories", *got.Title)
}

func TestPostMessage_AnnotatesUncitedReply(t *testing.T) {
	j := newTestJournal(t)
	seedJournal(t, j)
	chat := newTestChat(t, j, &fakeCompleter{reply: "You went hiking."})
	ctx := context.Background()

	session, err := chat.CreateSession(ctx, nil, nil)
	require.NoError(t, err)
	res, err := chat.PostMessage(ctx, session.ID, "hiking on the mountain")
	require.NoError(t, err)
	chat.Wait()
	assert.Contains(t, res.AssistantMessage.Content, "(Based on your journal entry from March 2, 2025")
}

func TestPostMessage_MessageDateFilter(t *testing.T) {
	j := newTestJournal(t)
	_, _, beach, _ := seedJournal(t, j)
	llm := &fakeCompleter{reply: "The dog loved it [1]."}
	chat := newTestChat(t, j, llm)
	ctx := context.Background()

	session, err := chat.CreateSession(ctx, nil, nil)
	require.NoError(t, err)
	res, err := chat.PostMessage(ctx, session.ID, "What did the dog do last summer?")
	require.NoError(t, err)
	chat.Wait()

	require.NotNil(t, res.DateFilter)
	assert.Equal(t, 2024, res.DateFilter.From.Year())
	require.NotEmpty(t, res.AssistantMessage.References)
	for _, ref := range res.AssistantMessage.References {
		assert.Equal(t, beach.ID, ref.EntryID)
	}
}

func TestPostMessage_SessionFilterTakesPrecedence(t *testing.T) {
	j := newTestJournal(t)
	_, coffee, _, _ := seedJournal(t, j)
	chat := newTestChat(t, j, &fakeCompleter{reply: "ok [1]"})
	ctx := context.Background()

	session, err := chat.CreateSession(ctx, nil, nil)
	require.NoError(t, err)
	april := &temporal.DateRange{From: date(2025, 4, 1), To: date(2025, 4, 30)}
	updated, err := chat.SetSessionFilter(ctx, session.ID, april)
	require.NoError(t, err)
	require.NotNil(t, updated.DateFrom)

	res, err := chat.PostMessage(ctx, session.ID, "What did the dog do last summer?")
	require.NoError(t, err)
	chat.Wait()
	require.NotNil(t, res.DateFilter)
	assert.Equal(t, time.April, res.DateFilter.From.Month())
	require.NotEmpty(t, res.AssistantMessage.References)
	assert.Equal(t, coffee.ID, res.AssistantMessage.References[0].EntryID)

	cleared, err := chat.SetSessionFilter(ctx, session.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, cleared.DateFrom)
	assert.Nil(t, cleared.DateTo)
}

func TestPostMessage_LLMFailureYieldsApology(t *testing.T) {
	j := newTestJournal(t)
	seedJournal(t, j)
	chat := newTestChat(t, j, &fakeCompleter{err: errBoom})
	ctx := context.Background()

	session, err := chat.CreateSession(ctx, nil, nil)
	require.NoError(t, err)
	res, err := chat.PostMessage(ctx, session.ID, "hiking?")
	require.NoError(t, err)
	chat.Wait()
	assert.Equal(t, apologyText, res.AssistantMessage.Content)

	_, messages, err := chat.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestPostMessage_Validation(t *testing.T) {
	j := newTestJournal(t)
	chat := newTestChat(t, j, &fakeCompleter{reply: "hi"})
	ctx := context.Background()

	_, err := chat.PostMessage(ctx, "missing", "hello")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	session, err := chat.CreateSession(ctx, nil, nil)
	require.NoError(t, err)
	_, err = chat.PostMessage(ctx, session.ID, "  ")
	assert.ErrorIs(t, err, store.ErrEmptyContent)
}

func TestChatService_SessionLifecycle(t *testing.T) {
	j := newTestJournal(t)
	chat := newTestChat(t, j, &fakeCompleter{reply: "hi"})
	ctx := context.Background()

	missing := "no-such-persona"
	_, err := chat.CreateSession(ctx, nil, &missing)
	assert.ErrorIs(t, err, store.ErrPersonaNotFound)

	title := "Trip planning"
	session, err := chat.CreateSession(ctx, &title, nil)
	require.NoError(t, err)

	sessions, err := chat.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, j.store.UpdateSessionSummary(ctx, session.ID, "old summary"))
	require.NoError(t, chat.ClearSummary(ctx, session.ID))
	got, _, err := chat.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ContextSummary)
	assert.Equal(t, "Trip planning", *got.Title)

	require.NoError(t, chat.DeleteSession(ctx, session.ID))
	_, _, err = chat.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}
