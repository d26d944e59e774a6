package classpathcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groovyls/internal/classpath"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "classpath.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "/ws", "/ws/app")
	require.NoError(t, err)
	assert.False(t, ok)

	want := classpath.CachedProject{
		Entries:         []string{"/m2/groovy-4.0.21.jar", "/ws/app/build/classes"},
		LanguageVersion: "4.0.21",
		BuildFileHash:   "abc",
	}
	require.NoError(t, s.Put(ctx, "/ws", "/ws/app", want))

	got, ok, err := s.Get(ctx, "/ws", "/ws/app")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	// other workspace is isolated
	_, ok, err = s.Get(ctx, "/other", "/ws/app")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutReplaces(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "/ws", "/ws/app", classpath.CachedProject{Entries: []string{"a.jar"}}))
	require.NoError(t, s.Put(ctx, "/ws", "/ws/app", classpath.CachedProject{Entries: []string{"b.jar", "c.jar"}, BuildFileHash: "h2"}))

	got, ok, err := s.Get(ctx, "/ws", "/ws/app")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"b.jar", "c.jar"}, got.Entries)
	assert.Equal(t, "h2", got.BuildFileHash)

	st, err := s.Stats(ctx, "/ws")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Projects)
	assert.Equal(t, 2, st.Entries)
	assert.Positive(t, st.BlobBytes)
}

func TestSyncTopology(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	invalidated, err := s.SyncTopology(ctx, "/ws", []string{"/ws/a", "/ws/b"})
	require.NoError(t, err)
	assert.False(t, invalidated, "first sync has nothing to invalidate")

	require.NoError(t, s.Put(ctx, "/ws", "/ws/a", classpath.CachedProject{Entries: []string{"x.jar"}}))

	invalidated, err = s.SyncTopology(ctx, "/ws", []string{"/ws/b", "/ws/a"})
	require.NoError(t, err)
	assert.False(t, invalidated, "order does not matter")
	_, ok, _ := s.Get(ctx, "/ws", "/ws/a")
	assert.True(t, ok)

	invalidated, err = s.SyncTopology(ctx, "/ws", []string{"/ws/a", "/ws/b", "/ws/c"})
	require.NoError(t, err)
	assert.True(t, invalidated)
	_, ok, _ = s.Get(ctx, "/ws", "/ws/a")
	assert.False(t, ok)
}

func TestInvalidateAndClear(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, root := range []string{"/ws/a", "/ws/b"} {
		require.NoError(t, s.Put(ctx, "/ws", root, classpath.CachedProject{Entries: []string{root + ".jar"}}))
	}
	require.NoError(t, s.InvalidateProject(ctx, "/ws", "/ws/a"))

	_, ok, _ := s.Get(ctx, "/ws", "/ws/a")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "/ws", "/ws/b")
	assert.True(t, ok)

	require.NoError(t, s.Clear(ctx, "/ws"))
	st, err := s.Stats(ctx, "/ws")
	require.NoError(t, err)
	assert.Zero(t, st.Projects)
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classpath.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "/ws", "/ws/app", classpath.CachedProject{Entries: []string{"g.jar"}, LanguageVersion: "3.0.9"}))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.Get(ctx, "/ws", "/ws/app")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3.0.9", got.LanguageVersion)
}

func TestTopologyHash(t *testing.T) {
	assert.Equal(t, TopologyHash([]string{"b", "a"}), TopologyHash([]string{"a", "b"}))
	assert.NotEqual(t, TopologyHash([]string{"a"}), TopologyHash([]string{"a", "b"}))
}
