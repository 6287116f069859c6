package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

func TestDocumentStore(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	data := []byte(`{"a":1}`)
	require.NoError(t, store.Put(context.Background(), "b.json", data))
	require.NoError(t, store.Put(context.Background(), "a.json", []byte(`{}`)))

	data[0] = 'x'
	got, ok := store.Get("b.json")
	require.True(t, ok)
	require.Equal(t, `{"a":1}`, string(got))
	require.Equal(t, []string{"a.json", "b.json"}, store.Names())
	require.Equal(t, "memory://b.json", store.Path("b.json"))

	_, ok = store.Get("missing")
	require.False(t, ok)
}

func TestRecordStore(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, harvest.CollectionRecord{URL: "u1", ReviewCount: 1}))
	require.NoError(t, store.Insert(ctx, harvest.CollectionRecord{URL: "u2", ReviewCount: 2}))
	require.Equal(t, 2, store.Len())

	require.NoError(t, store.Delete(ctx, "u1"))
	require.Empty(t, store.Records("u1"))
	require.Len(t, store.Records("u2"), 1)
	require.Equal(t, 1, store.Len())
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewDocumentStore().Put(ctx, "a", nil), context.Canceled)
	require.ErrorIs(t, NewRecordStore().Insert(ctx, harvest.CollectionRecord{}), context.Canceled)
}
