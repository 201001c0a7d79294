package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/shared-lists/internal/repository"
)

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	return d
}

func TestRead_Missing(t *testing.T) {
	d := newTestDir(t)

	_, err := d.Read(context.Background(), repository.DocLists)
	assert.True(t, errors.Is(err, repository.ErrNotExist), "err = %v", err)
}

func TestWriteThenRead(t *testing.T) {
	d := newTestDir(t)
	ctx := context.Background()

	require.NoError(t, d.Write(ctx, repository.DocLists, []byte(`{"a":[]}`)))
	got, err := d.Read(ctx, repository.DocLists)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[]}`, string(got))

	require.NoError(t, d.Write(ctx, repository.DocLists, []byte(`{"b":[]}`)))
	got, err = d.Read(ctx, repository.DocLists)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":[]}`, string(got))
}

func TestWrite_LeavesNoTempFiles(t *testing.T) {
	d := newTestDir(t)
	require.NoError(t, d.Write(context.Background(), repository.DocUsers, []byte(`{}`)))

	entries, err := os.ReadDir(d.path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "users.json", entries[0].Name())
}

func TestWrite_CanceledContext(t *testing.T) {
	d := newTestDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Write(ctx, repository.DocLists, []byte(`{}`))
	require.Error(t, err)

	_, err = d.Read(context.Background(), repository.DocLists)
	assert.True(t, errors.Is(err, repository.ErrNotExist))
}

func TestWrite_FileMode(t *testing.T) {
	d := newTestDir(t)
	require.NoError(t, d.Write(context.Background(), repository.DocLists, []byte(`{}`)))

	info, err := os.Stat(d.Path(repository.DocLists))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestWrite_FailedReplaceLeavesNoTempFiles(t *testing.T) {
	d := newTestDir(t)
	// A directory in the document's place can't be replaced by a file.
	require.NoError(t, os.Mkdir(d.Path(repository.DocUsers), 0o755))

	err := d.Write(context.Background(), repository.DocUsers, []byte(`{}`))
	require.Error(t, err)

	entries, err := os.ReadDir(d.path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDir())
}
