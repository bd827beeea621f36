package sync

import (
	"bytes"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/openmined/syncbox/internal/utils"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileWithIntegrityCheck(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		content := []byte("Hello, World!")

		n, err := writeFileWithIntegrityCheck(fs, "/.syncbox-tmp", "/test.txt", bytes.NewReader(content), utils.BytesHash(content))
		require.NoError(t, err)
		assert.Equal(t, int64(len(content)), n)

		got, err := afero.ReadFile(fs, "/test.txt")
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("integrity check failure", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		content := []byte("Hello, World!")

		_, err := writeFileWithIntegrityCheck(fs, "/.syncbox-tmp", "/test.txt", bytes.NewReader(content), "wronghash")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "integrity check failed")

		exists, err := afero.Exists(fs, "/test.txt")
		require.NoError(t, err)
		assert.False(t, exists)

		leftovers, err := afero.ReadDir(fs, "/.syncbox-tmp")
		require.NoError(t, err)
		assert.Empty(t, leftovers, "temp file removed on failure")
	})

	t.Run("parent directory creation", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		content := []byte("Nested file content")

		_, err := writeFileWithIntegrityCheck(fs, "/.syncbox-tmp", "/subdir/nested/test.txt", bytes.NewReader(content), utils.BytesHash(content))
		require.NoError(t, err)

		got, err := afero.ReadFile(fs, "/subdir/nested/test.txt")
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("empty content", func(t *testing.T) {
		fs := afero.NewMemMapFs()

		_, err := writeFileWithIntegrityCheck(fs, "/.syncbox-tmp", "/empty.txt", bytes.NewReader(nil), utils.BytesHash(nil))
		require.NoError(t, err)

		got, err := afero.ReadFile(fs, "/empty.txt")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/test.txt", []byte("old"), 0o644))
		content := []byte("new")

		_, err := writeFileWithIntegrityCheck(fs, "/.syncbox-tmp", "/test.txt", bytes.NewReader(content), utils.BytesHash(content))
		require.NoError(t, err)

		got, err := afero.ReadFile(fs, "/test.txt")
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("filesystem failure is a local error", func(t *testing.T) {
		fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
		content := []byte("Hello, World!")

		_, err := writeFileWithIntegrityCheck(fs, "/.syncbox-tmp", "/docs/test.txt", bytes.NewReader(content), utils.BytesHash(content))
		var ioErr *LocalIOError
		require.ErrorAs(t, err, &ioErr)
		assert.Equal(t, "/docs/test.txt", ioErr.Path)
	})

	t.Run("body read failure stays retryable", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		readErr := errors.New("connection reset")

		_, err := writeFileWithIntegrityCheck(fs, "/.syncbox-tmp", "/test.txt", iotest.ErrReader(readErr), "anyhash")
		require.ErrorIs(t, err, readErr)
		var ioErr *LocalIOError
		assert.False(t, errors.As(err, &ioErr))
		assert.False(t, notRetryable(err))
	})
}
