package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/calliope/plugin/ai"
	"github.com/hrygo/calliope/plugin/ai/memory"
	"github.com/hrygo/calliope/plugin/ai/rag"
	"github.com/hrygo/calliope/plugin/search"
	"github.com/hrygo/calliope/server/runner/consolidation"
	"github.com/hrygo/calliope/store"
	teststore "github.com/hrygo/calliope/store/test"
)

type fakeRetriever struct {
	mu      sync.Mutex
	queries []string
	context *rag.RetrievalContext
}

func (f *fakeRetriever) GetContext(_ context.Context, query string, _ int) *rag.RetrievalContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.context == nil {
		return rag.EmptyContext()
	}
	return f.context
}

type fakeConsolidator struct {
	jobs []consolidation.Job
}

func (f *fakeConsolidator) Enqueue(job consolidation.Job) bool {
	f.jobs = append(f.jobs, job)
	return true
}

func eiffelContext() *rag.RetrievalContext {
	return rag.Assemble([]rag.RankedDocument{{
		Result: search.Result{
			Title: "Eiffel Tower",
			URL:   "https://example.com/eiffel",
			Text:  "The Eiffel Tower is a wrought-iron lattice tower in Paris.",
		},
	}})
}

type fixture struct {
	store        *store.Store
	llm          *ai.MockLLMService
	retriever    *fakeRetriever
	consolidator *fakeConsolidator
	memories     *memory.Service
	service      *Service
}

func newFixture(t *testing.T, responses ...string) *fixture {
	t.Helper()
	st := teststore.NewTestingStore(context.Background(), t)
	f := &fixture{
		store:        st,
		llm:          ai.NewMockLLMService(responses...),
		retriever:    &fakeRetriever{},
		consolidator: &fakeConsolidator{},
		memories:     memory.NewService(st),
	}
	f.service = NewService(st, f.llm, f.retriever, f.memories, f.consolidator)
	return f
}

func TestChatResearchTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "[s:1]The Eiffel Tower is in Paris.[/s:1]")
	f.retriever.context = eiffelContext()

	resp, err := f.service.Chat(ctx, Request{OwnerID: 1, Message: "Where is the Eiffel Tower?", Mode: ModeResearch})
	require.NoError(t, err)
	assert.True(t, resp.Research)
	assert.Equal(t, rag.ReasonForced, resp.Decision.Reason)
	assert.Equal(t, []rag.Source{{ID: 1, Title: "Eiffel Tower", URL: "https://example.com/eiffel"}}, resp.Sources)
	assert.Empty(t, resp.Violations)

	calls := f.llm.Calls()
	require.Len(t, calls, 1)
	system := calls[0][0].Content
	assert.Contains(t, system, "[s:ID]text[/s:ID]")
	assert.Contains(t, system, "Source [1]: The Eiffel Tower is a wrought-iron lattice tower in Paris.")

	messages, err := f.service.ListMessages(ctx, 1, resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, store.MessageRoleUser, messages[0].Role)
	assert.Equal(t, resp.MessageID, messages[1].ID)
	var meta MessageMetadata
	require.NoError(t, json.Unmarshal([]byte(messages[1].Metadata), &meta))
	assert.True(t, meta.Research)
	assert.Len(t, meta.Sources, 1)

	require.Len(t, f.consolidator.jobs, 1)
	job := f.consolidator.jobs[0]
	assert.Equal(t, resp.ConversationID, job.ConversationID)
	assert.Equal(t, resp.MessageID, *job.TurnID)
	assert.Equal(t, "[s:1]The Eiffel Tower is in Paris.[/s:1]", job.AssistantTurn)
}

func TestChatAutoRetrievalAnswersFreeForm(t *testing.T) {
	f := newFixture(t, "It is sunny in Paris.")
	f.retriever.context = eiffelContext()

	resp, err := f.service.Chat(context.Background(), Request{OwnerID: 1, Message: "What is the current weather in Paris today?", Mode: ModeAuto})
	require.NoError(t, err)
	assert.True(t, resp.Decision.ShouldRetrieve)
	assert.NotEqual(t, rag.ReasonForced, resp.Decision.Reason)
	assert.False(t, resp.Research)
	assert.Len(t, resp.Sources, 1)
	assert.Empty(t, resp.Violations)

	require.Len(t, f.retriever.queries, 1)
	system := f.llm.Calls()[0][0].Content
	assert.Contains(t, system, "rely on your knowledge")
	assert.Contains(t, system, "Source [1]: The Eiffel Tower is a wrought-iron lattice tower in Paris.")
	assert.NotContains(t, system, "[s:ID]")

	require.Len(t, f.consolidator.jobs, 1)
	assert.Equal(t, "It is sunny in Paris.", f.consolidator.jobs[0].AssistantTurn)
}

func TestChatReportsCitationViolations(t *testing.T) {
	f := newFixture(t, "The Eiffel Tower is in Paris [1].")
	f.retriever.context = eiffelContext()

	resp, err := f.service.Chat(context.Background(), Request{OwnerID: 1, Message: "Where is the Eiffel Tower?", Mode: ModeResearch})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Violations)
	var kinds []rag.ViolationKind
	for _, v := range resp.Violations {
		kinds = append(kinds, v.Kind)
	}
	assert.Contains(t, kinds, rag.ViolationUntagged)
	assert.Contains(t, kinds, rag.ViolationForeignSyntax)
}

func TestChatResearchWithoutResultsFallsBackToDirect(t *testing.T) {
	f := newFixture(t, "I could not find anything, but Paris is my best guess.")

	resp, err := f.service.Chat(context.Background(), Request{OwnerID: 1, Message: "Where is the Eiffel Tower?", Mode: ModeResearch})
	require.NoError(t, err)
	assert.False(t, resp.Research)
	assert.Empty(t, resp.Sources)
	assert.Len(t, f.retriever.queries, 1)
	assert.Contains(t, f.llm.Calls()[0][0].Content, "helpful AI assistant")
}

func TestChatDirectAndChitchat(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"direct mode", Request{OwnerID: 1, Message: "What is the latest news about Paris?", Mode: ModeDirect}},
		{"chitchat", Request{OwnerID: 1, Message: "hello!", Mode: ModeAuto}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "Hi there!")
			f.retriever.context = eiffelContext()

			resp, err := f.service.Chat(context.Background(), tt.req)
			require.NoError(t, err)
			assert.False(t, resp.Research)
			assert.Empty(t, f.retriever.queries)
			assert.Len(t, f.llm.Calls(), 1)
		})
	}
}

func TestChatQuotedText(t *testing.T) {
	f := newFixture(t, "It means hello.")
	resp, err := f.service.Chat(context.Background(), Request{
		OwnerID:    1,
		Message:    "What does this mean?",
		QuotedText: "bonjour",
		Mode:       ModeDirect,
	})
	require.NoError(t, err)

	messages, err := f.service.ListMessages(context.Background(), 1, resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Regarding: 'bonjour'\n\nWhat does this mean?", messages[0].Content)
}

func TestChatOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ok")
	resp, err := f.service.Chat(ctx, Request{OwnerID: 1, Message: "Remember this chat", Mode: ModeDirect})
	require.NoError(t, err)

	_, err = f.service.Chat(ctx, Request{OwnerID: 2, ConversationID: resp.ConversationID, Message: "hi there", Mode: ModeDirect})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.service.ListMessages(ctx, 2, resp.ConversationID)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.service.Chat(ctx, Request{OwnerID: 1, ConversationID: 9999, Message: "hi there", Mode: ModeDirect})
	assert.ErrorIs(t, err, ErrNotFound)

	conversations, err := f.service.ListConversations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, "Remember this chat", conversations[0].Title)
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ok")
	window := memory.NewConversationWindow(10)
	defer window.Close()
	f.service = NewService(f.store, f.llm, f.retriever, f.memories, f.consolidator, WithWindow(window))

	resp, err := f.service.Chat(ctx, Request{OwnerID: 1, Message: "Short lived chat", Mode: ModeDirect})
	require.NoError(t, err)
	assert.Equal(t, 1, window.Len())

	assert.ErrorIs(t, f.service.DeleteConversation(ctx, 2, resp.ConversationID), ErrUnauthorized)
	assert.Equal(t, 1, window.Len())

	require.NoError(t, f.service.DeleteConversation(ctx, 1, resp.ConversationID))
	assert.Equal(t, 0, window.Len())
	_, ok := window.Recent(resp.ConversationID, 0)
	assert.False(t, ok)

	_, err = f.service.ListMessages(ctx, 1, resp.ConversationID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.service.DeleteConversation(ctx, 1, resp.ConversationID), ErrNotFound)
}

func TestChatErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "unused")

	_, err := f.service.Chat(ctx, Request{OwnerID: 1, Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	f.llm.FailNext(errors.New("503"))
	_, err = f.service.Chat(ctx, Request{OwnerID: 1, Message: "Tell me a story", Mode: ModeDirect})
	assert.ErrorIs(t, err, ErrLLMUnavailable)
	assert.Empty(t, f.consolidator.jobs)
}

func TestChatHistoryAndMemories(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "Nice to meet you.", "You teach maths.")
	window := memory.NewConversationWindow(10)
	defer window.Close()
	f.service = NewService(f.store, f.llm, f.retriever, f.memories, f.consolidator, WithWindow(window))

	name := "Professional"
	categories, err := f.store.ListMemoryCategories(ctx, &store.FindMemoryCategory{Name: &name})
	require.NoError(t, err)
	record, err := f.memories.Create(ctx, 1, memory.CreateRequest{CategoryID: categories[0].ID, Content: "User teaches maths"})
	require.NoError(t, err)
	_, err = f.memories.SetVerified(ctx, 1, record.ID, true)
	require.NoError(t, err)

	first, err := f.service.Chat(ctx, Request{OwnerID: 1, Message: "Hi, I am Sam.", Mode: ModeDirect})
	require.NoError(t, err)
	assert.Equal(t, 1, first.MemoriesUsed)

	_, err = f.service.Chat(ctx, Request{OwnerID: 1, ConversationID: first.ConversationID, Message: "What do I teach?", Mode: ModeDirect})
	require.NoError(t, err)

	calls := f.llm.Calls()
	require.Len(t, calls, 2)
	second := calls[1]
	assert.True(t, strings.Contains(second[0].Content, "- User teaches maths"))
	require.Len(t, second, 4)
	assert.Equal(t, "Hi, I am Sam.", second[1].Content)
	assert.Equal(t, "Nice to meet you.", second[2].Content)
	assert.Equal(t, "What do I teach?", second[3].Content)

	// A cold window falls back to the stored messages.
	cold := NewService(f.store, ai.NewMockLLMService("ok"), nil, nil, nil)
	history := cold.history(ctx, first.ConversationID)
	assert.Len(t, history, 4)
}

func TestConversationTitle(t *testing.T) {
	assert.Equal(t, "Hello world", conversationTitle("  Hello \n world "))
	long := strings.Repeat("a", 60)
	assert.Equal(t, strings.Repeat("a", 50)+"...", conversationTitle(long))
}

func TestChatTrimsPromptToTokenBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "ok")
	// 200 tokens left after the system prompt: 140 for history, 60 for memories.
	f.service = NewService(f.store, f.llm, f.retriever, f.memories, f.consolidator, WithTokenBudget(700))

	name := "Professional"
	categories, err := f.store.ListMemoryCategories(ctx, &store.FindMemoryCategory{Name: &name})
	require.NoError(t, err)
	record, err := f.memories.Create(ctx, 1, memory.CreateRequest{CategoryID: categories[0].ID, Content: strings.Repeat("m", 300)})
	require.NoError(t, err)
	_, err = f.memories.SetVerified(ctx, 1, record.ID, true)
	require.NoError(t, err)

	first, err := f.service.Chat(ctx, Request{OwnerID: 1, Message: strings.Repeat("long ", 160), Mode: ModeDirect})
	require.NoError(t, err)
	assert.Equal(t, 0, first.MemoriesUsed)

	_, err = f.service.Chat(ctx, Request{OwnerID: 1, ConversationID: first.ConversationID, Message: "and now?", Mode: ModeDirect})
	require.NoError(t, err)

	calls := f.llm.Calls()
	require.Len(t, calls, 2)
	// The 200-token first question does not fit and its reply is not kept alone.
	require.Len(t, calls[1], 2)
	assert.Equal(t, "and now?", calls[1][1].Content)
	assert.NotContains(t, calls[1][0].Content, "What you know about the user")
}
