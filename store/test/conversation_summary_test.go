package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/calliope/store"
)

func TestConversationSummaryStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	conv := createConversation(ctx, t, ts, 1)

	missing, err := ts.GetConversationSummary(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	created, err := ts.CreateConversationSummary(ctx, &store.ConversationSummary{ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Equal(t, int32(1), created.Version)
	assert.Empty(t, created.KeyTopics)
	assert.NotNil(t, created.ExtractedFacts)

	_, err = ts.CreateConversationSummary(ctx, &store.ConversationSummary{ConversationID: conv.ID})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	updated, err := ts.UpdateConversationSummary(ctx, &store.UpdateConversationSummary{
		ConversationID:  conv.ID,
		ExpectedVersion: 1,
		ShortSummary:    "Paris trip",
		DetailedSummary: "The user is planning a trip to Paris.",
		KeyTopics:       []string{"travel", "paris"},
		ExtractedFacts:  []string{"User is travelling to Paris"},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), updated.Version)
	assert.Equal(t, []string{"travel", "paris"}, updated.KeyTopics)

	t.Run("stale version", func(t *testing.T) {
		_, err := ts.UpdateConversationSummary(ctx, &store.UpdateConversationSummary{ConversationID: conv.ID, ExpectedVersion: 1})
		assert.ErrorIs(t, err, store.ErrVersionConflict)

		current, err := ts.GetConversationSummary(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(2), current.Version)
		assert.Equal(t, "The user is planning a trip to Paris.", current.DetailedSummary)
	})

	t.Run("no summary", func(t *testing.T) {
		_, err := ts.UpdateConversationSummary(ctx, &store.UpdateConversationSummary{ConversationID: 9999, ExpectedVersion: 1})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
