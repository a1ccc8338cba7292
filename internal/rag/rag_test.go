package rag

import (
	"context"
	"strings"
	"testing"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubEmbedding maps text to a deterministic unit vector keyed on the first
// byte, so "same word" queries rank their own chunk first without a model.
func stubEmbedding(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	if len(text) > 0 {
		v[int(text[0])%8] = 1
	} else {
		v[0] = 1
	}
	return v, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir(), chromem.EmbeddingFunc(stubEmbedding), zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestChunkText(t *testing.T) {
	text := strings.Repeat("x", 2500)
	chunks := chunkText(text, 1000, 800)

	require.Len(t, chunks, 4)
	require.Len(t, chunks[0], 1000) // [0:1000]
	require.Len(t, chunks[1], 1000) // [800:1800]
	require.Len(t, chunks[2], 900)  // [1600:2500]
	require.Len(t, chunks[3], 100)  // [2400:2500]
}

func TestChunkTextShortInput(t *testing.T) {
	chunks := chunkText("short", 1000, 800)
	require.Equal(t, []string{"short"}, chunks)

	require.Nil(t, chunkText("", 1000, 800))
}

func TestIndexAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Index(ctx, "alpha contents", "a.txt", "sess-1"))

	got, err := store.Search(ctx, "sess-1", "alpha")
	require.NoError(t, err)
	require.Contains(t, got, "alpha contents")
}

func TestSearchEmptySession(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Search(context.Background(), "sess-none", "anything")
	require.NoError(t, err)
	require.Empty(t, got, "a session with no documents yields no context")
}

func TestSearchIsSessionScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Index(ctx, "alpha secret", "a.txt", "sess-1"))

	got, err := store.Search(ctx, "sess-2", "alpha")
	require.NoError(t, err)
	require.Empty(t, got, "documents never leak across sessions")
}

func TestSearchJoinsChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// 1800 chars of one letter chunk into three overlapping pieces that all
	// embed identically, so the query retrieves more than one.
	require.NoError(t, store.Index(ctx, strings.Repeat("a", 1800), "a.txt", "sess-1"))

	got, err := store.Search(ctx, "sess-1", "aaaa")
	require.NoError(t, err)
	require.Contains(t, got, "\n---\n")
}

func TestReindexSameSourceOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Index(ctx, "alpha first", "a.txt", "sess-1"))
	require.NoError(t, store.Index(ctx, "alpha second", "a.txt", "sess-1"))

	got, err := store.Search(ctx, "sess-1", "alpha")
	require.NoError(t, err)
	require.Contains(t, got, "alpha second")
	require.NotContains(t, got, "alpha first")
}
