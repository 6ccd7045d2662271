package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveAndOpen(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	n, err := store.Save("grv-1/0-note.txt", strings.NewReader("hello"), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	file, err := store.Open("grv-1/0-note.txt")
	require.NoError(t, err)
	defer file.Close()
	body, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	require.NoError(t, store.Delete("grv-1/0-note.txt"))
	require.NoError(t, store.Delete("grv-1/0-note.txt"))
}

func TestLocalStorageRejectsOversizedStream(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("grv-1/big.bin", strings.NewReader(strings.Repeat("x", 11)), 10)
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = store.Open("grv-1/big.bin")
	assert.Error(t, err)
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("../escape.txt", strings.NewReader("x"), 0)
	assert.Error(t, err)
}
