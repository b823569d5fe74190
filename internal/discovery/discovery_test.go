package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileSystemDiscovery(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pets", OverallFile), "type Query { dog: String }")
	writeFile(t, filepath.Join(root, "pets", UnderlyingFile), "type Query { dog: String }")
	writeFile(t, filepath.Join(root, "users", OverallFile), "type Query { me: String }")
	writeFile(t, filepath.Join(root, "notes", "README.md"), "not a service")
	writeFile(t, filepath.Join(root, "stray.graphql"), "type Query { x: Int }")

	d, err := NewFileSystemDiscovery(context.Background(), root)
	require.NoError(t, err)

	metas, err := d.ListMetadata(context.Background())
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, "pets", metas[0].Name)
	require.Equal(t, "pets/underlying.graphql", metas[0].UnderlyingPath)
	require.Equal(t, "users", metas[1].Name)
	require.Empty(t, metas[1].UnderlyingPath)

	sdl, err := d.ReadServiceSDL(context.Background(), "users")
	require.NoError(t, err)
	require.Equal(t, "type Query { me: String }", sdl.Overall)
	require.Empty(t, sdl.Underlying)

	_, err = d.ReadServiceSDL(context.Background(), "missing")
	require.Error(t, err)
}

func TestFileSystemDiscoveryEmpty(t *testing.T) {
	_, err := NewFileSystemDiscovery(context.Background(), t.TempDir())
	require.Error(t, err)
}

func TestInMemoryDiscovery(t *testing.T) {
	d := NewInMemoryDiscovery([]InMemoryService{
		{Name: "b", Overall: "type Query { b: Int }"},
		{Name: "a", Overall: "type Query { a: Int }", Underlying: "type Query { a: Int }"},
	})
	metas, err := d.ListMetadata(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", metas[0].Name)
	require.Equal(t, "a/underlying.graphql", metas[0].UnderlyingPath)

	sdl, err := d.ReadServiceSDL(context.Background(), "b")
	require.NoError(t, err)
	require.Equal(t, "type Query { b: Int }", sdl.Overall)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
