package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/parley/pkg/content"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/history"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/go-go-golems/parley/pkg/inference/mock"
)

func newTestOrchestrator(t *testing.T, invoker inference.Invoker, options ...Option) (*Orchestrator, history.Store) {
	t.Helper()
	store, err := history.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewOrchestrator(store, invoker, options...), store
}

func textContent(text string) *content.StructuredContent {
	return content.NewStructuredContent().Insert(0, content.NewTextUnit(text))
}

func TestChatAppendsUserAndAssistantMessages(t *testing.T) {
	orch, store := newTestOrchestrator(t, mock.NewInvoker())
	ctx := context.Background()

	result, err := orch.Chat(ctx, "conv-1", textContent("hello"))
	require.NoError(t, err)
	assert.Equal(t, "conv-1", result.ConversationID)
	assert.Equal(t, conversation.RoleAssistant, result.Response.Role)
	assert.Equal(t, 2, result.MessageCount)

	state, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, conversation.RoleUser, state.Messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, state.Messages[1].Role)
}

func TestChatGeneratesIDWhenEmpty(t *testing.T) {
	orch, _ := newTestOrchestrator(t, mock.NewInvoker())

	result, err := orch.Chat(context.Background(), "", textContent("hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.ConversationID)
}

func TestChatGrowsHistoryByTwoEachTurn(t *testing.T) {
	orch, store := newTestOrchestrator(t, mock.NewInvoker())
	ctx := context.Background()

	for turn := 1; turn <= 3; turn++ {
		_, err := orch.Chat(ctx, "conv-1", textContent(fmt.Sprintf("turn %d", turn)))
		require.NoError(t, err)

		state, err := store.Load(ctx, "conv-1")
		require.NoError(t, err)
		require.Len(t, state.Messages, turn*2)
	}
}

func TestChatDoesNotMutatePriorMessages(t *testing.T) {
	orch, store := newTestOrchestrator(t, mock.NewInvoker())
	ctx := context.Background()

	_, err := orch.Chat(ctx, "conv-1", textContent("first"))
	require.NoError(t, err)
	before, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)

	_, err = orch.Chat(ctx, "conv-1", textContent("second"))
	require.NoError(t, err)
	after, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)

	for i, msg := range before.Messages {
		assert.Equal(t, msg.ID, after.Messages[i].ID)
		assert.Equal(t, msg.Content.DisplayText(), after.Messages[i].Content.DisplayText())
	}
}

func TestSystemPromptIsFixedAtFirstTurn(t *testing.T) {
	orch, store := newTestOrchestrator(t, mock.NewInvoker())
	ctx := context.Background()

	_, err := orch.Chat(ctx, "conv-1", textContent("first"), WithSystemPrompt("be helpful"))
	require.NoError(t, err)

	// no prompt supplied on the second call: the stored one is retained
	_, err = orch.Chat(ctx, "conv-1", textContent("second"))
	require.NoError(t, err)

	// a different prompt on the third call is ignored
	_, err = orch.Chat(ctx, "conv-1", textContent("third"), WithSystemPrompt("be terse"))
	require.NoError(t, err)

	state, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, state.SystemPrompt)
	assert.Equal(t, "be helpful", *state.SystemPrompt)
}

func TestEmptyContentIsAccepted(t *testing.T) {
	orch, store := newTestOrchestrator(t, mock.NewInvoker())
	ctx := context.Background()

	_, err := orch.Chat(ctx, "conv-1", content.NewStructuredContent())
	require.NoError(t, err)

	state, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, 0, state.Messages[0].Content.Len())
}

func TestInvalidUnitIsRejectedBeforeAnyMutation(t *testing.T) {
	orch, store := newTestOrchestrator(t, mock.NewInvoker())
	ctx := context.Background()

	bad := content.NewStructuredContent().Insert(0, content.Unit{})
	_, err := orch.Chat(ctx, "conv-1", bad)
	require.Error(t, err)
	var verr *content.ValidationError
	assert.ErrorAs(t, err, &verr)

	state, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, state.Messages)
}

func TestPermanentFailureLeavesHistoryUnchanged(t *testing.T) {
	failing := mock.NewInvoker(mock.WithFailure(
		inference.NewPermanentError(nil, "malformed request")))
	orch, store := newTestOrchestrator(t, failing)
	ctx := context.Background()

	okOrch := NewOrchestrator(store, mock.NewInvoker())
	_, err := okOrch.Chat(ctx, "conv-1", textContent("seed"))
	require.NoError(t, err)

	_, err = orch.Chat(ctx, "conv-1", textContent("will fail"))
	require.Error(t, err)
	assert.True(t, inference.IsPermanent(err))

	state, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, state.Messages, 2)
}

func TestTransientFailureIsClassified(t *testing.T) {
	failing := mock.NewInvoker(mock.WithFailure(
		inference.NewTransientError(nil, "connection reset")))
	orch, _ := newTestOrchestrator(t, failing)

	_, err := orch.Chat(context.Background(), "conv-1", textContent("hello"))
	require.Error(t, err)
	assert.True(t, inference.IsTransient(err))
	assert.False(t, inference.IsPermanent(err))
}

func TestDeadlineExpiryReturnsTimeoutAndCommitsNothing(t *testing.T) {
	slow := mock.NewInvoker(mock.WithDelay(500 * time.Millisecond))
	orch, store := newTestOrchestrator(t, slow)
	ctx := context.Background()

	_, err := orch.Chat(ctx, "conv-1", textContent("hello"), WithDeadline(20*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	state, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, state.Messages)
}

func TestSameConversationTurnsNeverOverlap(t *testing.T) {
	slow := mock.NewInvoker(mock.WithDelay(30 * time.Millisecond))
	orch, store := newTestOrchestrator(t, slow)

	g := errgroup.Group{}
	for i := 0; i < 3; i++ {
		i := i
		g.Go(func() error {
			_, err := orch.Chat(context.Background(), "conv-1", textContent(fmt.Sprintf("call %d", i)))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, slow.MaxConcurrent())

	state, err := store.Load(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, state.Messages, 6)

	// each queued turn saw the history committed by its predecessors
	lens := []int{}
	for _, call := range slow.Calls() {
		lens = append(lens, call.HistoryLen)
	}
	assert.ElementsMatch(t, []int{0, 2, 4}, lens)
}

func TestDistinctConversationsRunInParallelUpToLimit(t *testing.T) {
	slow := mock.NewInvoker(mock.WithDelay(50 * time.Millisecond))
	orch, _ := newTestOrchestrator(t, slow, WithMaxConcurrent(2))

	g := errgroup.Group{}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("conv-%d", i)
		g.Go(func() error {
			_, err := orch.Chat(context.Background(), id, textContent("hello"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, slow.MaxConcurrent(), 2)
	assert.Len(t, slow.Calls(), 5)
}

func TestDistinctConversationsDoOverlap(t *testing.T) {
	slow := mock.NewInvoker(mock.WithDelay(50 * time.Millisecond))
	orch, _ := newTestOrchestrator(t, slow, WithMaxConcurrent(5))

	g := errgroup.Group{}
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("conv-%d", i)
		g.Go(func() error {
			_, err := orch.Chat(context.Background(), id, textContent("hello"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Greater(t, slow.MaxConcurrent(), 1)
}

func TestStrictModeRejectsBusyConversation(t *testing.T) {
	slow := mock.NewInvoker(mock.WithDelay(200 * time.Millisecond))
	orch, _ := newTestOrchestrator(t, slow, WithStrictBusy())

	started := make(chan struct{})
	g := errgroup.Group{}
	g.Go(func() error {
		close(started)
		_, err := orch.Chat(context.Background(), "conv-1", textContent("first"))
		return err
	})

	<-started
	time.Sleep(50 * time.Millisecond)
	_, err := orch.Chat(context.Background(), "conv-1", textContent("second"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConversationBusy)

	require.NoError(t, g.Wait())
}

func TestExportRendersYAML(t *testing.T) {
	orch, _ := newTestOrchestrator(t, mock.NewInvoker())
	ctx := context.Background()

	result, err := orch.Chat(ctx, "conv-1", textContent("hello"), WithSystemPrompt("be helpful"))
	require.NoError(t, err)

	data, err := orch.Export(ctx, result.ConversationID)
	require.NoError(t, err)
	assert.Contains(t, string(data), "conversation_id: conv-1")
	assert.Contains(t, string(data), "system_prompt: be helpful")
}
