package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/calliope/store"
	teststore "github.com/hrygo/calliope/store/test"
)

func categoryID(ctx context.Context, t *testing.T, st *store.Store, name string) int32 {
	t.Helper()
	list, err := st.ListMemoryCategories(ctx, &store.FindMemoryCategory{Name: &name})
	require.NoError(t, err)
	require.Len(t, list, 1)
	return list[0].ID
}

func TestService_Ownership(t *testing.T) {
	ctx := context.Background()
	st := teststore.NewTestingStore(ctx, t)
	svc := NewService(st)
	professional := categoryID(ctx, t, st, "Professional")

	record, err := svc.Create(ctx, 1, CreateRequest{CategoryID: professional, Content: "User is a teacher"})
	require.NoError(t, err)
	assert.Equal(t, store.MemorySourceManual, record.SourceType)
	assert.Equal(t, "User is a teacher", record.Title)
	assert.InDelta(t, DefaultImportance, record.ImportanceScore, 1e-6)

	t.Run("Unauthorized", func(t *testing.T) {
		title := "stolen"
		_, err := svc.Update(ctx, 2, record.ID, UpdateRequest{Title: &title})
		assert.ErrorIs(t, err, ErrUnauthorized)
		_, err = svc.SetVerified(ctx, 2, record.ID, true)
		assert.ErrorIs(t, err, ErrUnauthorized)
		_, err = svc.Archive(ctx, 2, record.ID)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.ErrorIs(t, svc.Delete(ctx, 2, record.ID), ErrUnauthorized)
		_, err = svc.Provenance(ctx, 2, record.ID)
		assert.ErrorIs(t, err, ErrUnauthorized)

		unchanged, err := st.GetMemoryRecord(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, "User is a teacher", unchanged.Title)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := svc.SetVerified(ctx, 1, 9999, true)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrUnauthorized)
		assert.ErrorIs(t, svc.Delete(ctx, 1, 9999), ErrNotFound)
	})

	t.Run("Provenance", func(t *testing.T) {
		provenance, err := svc.Provenance(ctx, 1, record.ID)
		require.NoError(t, err)
		require.Len(t, provenance, 1)
		assert.Equal(t, store.MemorySourceManual, provenance[0].SourceType)
		assert.Nil(t, provenance[0].ConversationID)

		_, err = svc.Provenance(ctx, 1, 9999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		content := "User is a maths teacher"
		importance := float32(0.9)
		updated, err := svc.Update(ctx, 1, record.ID, UpdateRequest{Content: &content, Importance: &importance})
		require.NoError(t, err)
		assert.Equal(t, content, updated.Content)
		assert.Equal(t, "User is a teacher", updated.Title)
		assert.InDelta(t, 0.9, updated.ImportanceScore, 1e-6)

		bad := float32(1.5)
		_, err = svc.Update(ctx, 1, record.ID, UpdateRequest{Importance: &bad})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, svc.Delete(ctx, 1, record.ID))
		_, err := st.GetMemoryRecord(ctx, record.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestService_VerificationTransition(t *testing.T) {
	ctx := context.Background()
	st := teststore.NewTestingStore(ctx, t)
	svc := NewService(st)
	record, err := svc.Create(ctx, 1, CreateRequest{CategoryID: categoryID(ctx, t, st, "Preferences"), Content: "User prefers short answers"})
	require.NoError(t, err)

	verified, err := svc.SetVerified(ctx, 1, record.ID, true)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)
	assert.InDelta(t, 1.0, verified.ConfidenceScore, 1e-6)

	unverified, err := svc.SetVerified(ctx, 1, record.ID, false)
	require.NoError(t, err)
	assert.False(t, unverified.IsVerified)
	assert.InDelta(t, 0.4, unverified.ConfidenceScore, 1e-6)
}

func TestService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	st := teststore.NewTestingStore(ctx, t)
	svc := NewService(st)
	misc := categoryID(ctx, t, st, "Miscellaneous")

	_, err := svc.Create(ctx, 1, CreateRequest{CategoryID: misc, Content: "   "})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.Create(ctx, 1, CreateRequest{CategoryID: 9999, Content: "User likes tea"})
	assert.ErrorIs(t, err, ErrUnrecognizedCategory)

	_, err = svc.Create(ctx, 1, CreateRequest{CategoryID: misc, Content: "User likes tea"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, 1, CreateRequest{CategoryID: misc, Content: "User likes tea"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestService_RelevantFor(t *testing.T) {
	ctx := context.Background()
	st := teststore.NewTestingStore(ctx, t)
	svc := NewService(st)
	misc := categoryID(ctx, t, st, "Miscellaneous")

	create := func(content string, importance float32, verify bool) *store.MemoryRecord {
		r, err := svc.Create(ctx, 1, CreateRequest{CategoryID: misc, Content: content, Importance: &importance})
		require.NoError(t, err)
		if verify {
			_, err = svc.SetVerified(ctx, 1, r.ID, true)
			require.NoError(t, err)
		}
		return r
	}
	for i, imp := range []float32{0.1, 0.9, 0.5, 0.7, 0.3, 0.8} {
		create(string(rune('A'+i)), imp, true)
	}
	create("unverified", 1.0, false)
	archived := create("archived", 1.0, true)
	_, err := svc.Archive(ctx, 1, archived.ID)
	require.NoError(t, err)

	relevant, err := svc.RelevantFor(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, relevant, DefaultRelevantLimit)
	var contents []string
	for _, r := range relevant {
		contents = append(contents, r.Content)
	}
	assert.Equal(t, []string{"B", "F", "D", "C", "E"}, contents)

	other, err := svc.RelevantFor(ctx, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestService_Pagination(t *testing.T) {
	ctx := context.Background()
	st := teststore.NewTestingStore(ctx, t)
	svc := NewService(st)
	misc := categoryID(ctx, t, st, "Miscellaneous")
	professional := categoryID(ctx, t, st, "Professional")

	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, 1, CreateRequest{CategoryID: misc, Content: string(rune('a' + i))})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, 1, CreateRequest{CategoryID: professional, Content: "User is a teacher"})
	require.NoError(t, err)

	page, err := svc.ListAll(ctx, 1, 1, 4)
	require.NoError(t, err)
	assert.Len(t, page.Items, 4)
	assert.Equal(t, 6, page.Total)
	assert.Equal(t, 2, page.Pages)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)

	page, err = svc.ListAll(ctx, 1, 2, 4)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.False(t, page.HasNext)
	assert.True(t, page.HasPrev)

	byCategory, err := svc.ListByCategory(ctx, 1, professional, 1, 10)
	require.NoError(t, err)
	require.Len(t, byCategory.Items, 1)
	assert.Equal(t, "User is a teacher", byCategory.Items[0].Content)
	assert.Equal(t, 1, byCategory.Pages)
}

func TestService_MarkAccessedAndCategories(t *testing.T) {
	ctx := context.Background()
	st := teststore.NewTestingStore(ctx, t)
	svc := NewService(st)
	misc := categoryID(ctx, t, st, "Miscellaneous")

	record, err := svc.Create(ctx, 1, CreateRequest{CategoryID: misc, Content: "User likes tea"})
	require.NoError(t, err)

	later := record.LastAccessedTs + 100
	svc.now = func() time.Time { return time.Unix(later, 0) }
	svc.MarkAccessed(ctx, []*store.MemoryRecord{record})
	assert.Equal(t, later, record.LastAccessedTs)
	stored, err := st.GetMemoryRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, later, stored.LastAccessedTs)

	categories, err := svc.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, categories, len(store.DefaultMemoryCategories))
	assert.Equal(t, "Goals & Aspirations", categories[0].Name)
}
