package utils

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHash(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/a.txt", []byte("hello"), 0o644))

	hash, err := FileHash(fsys, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", hash)
	assert.Equal(t, hash, BytesHash([]byte("hello")))

	_, err = FileHash(fsys, "/missing.txt")
	assert.Error(t, err)
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "text/plain; charset=utf-8", DetectContentType("notes.md", nil))
	assert.Equal(t, "application/pdf", DetectContentType("blob", []byte("%PDF-1.4\n")))
	assert.Equal(t, "application/octet-stream", DetectContentType("blob", nil))
}
