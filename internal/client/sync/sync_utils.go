package sync

import (
	"crypto/md5"
	"fmt"
	"io"
	"path"

	"github.com/spf13/afero"
)

// writeFileWithIntegrityCheck writes body to name and verifies its MD5 against expectedHash.
// The body goes to a temp file under tmpDir first and is renamed into place, so a partial
// download never shows up under its final name.
// Failures of the local filesystem come back as *LocalIOError. Read failures of body and a
// hash mismatch are plain errors and may be retried.
func writeFileWithIntegrityCheck(fs afero.Fs, tmpDir string, name string, body io.Reader, expectedHash string) (int64, error) {
	if err := fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return 0, localIOError("ensure parent", name, err)
	}
	if err := fs.MkdirAll(tmpDir, 0o755); err != nil {
		return 0, localIOError("ensure temp directory", tmpDir, err)
	}

	tempFile, err := afero.TempFile(fs, tmpDir, path.Base(name)+".syncbox.tmp.*")
	if err != nil {
		return 0, localIOError("create temp file", name, err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			tempFile.Close()
			fs.Remove(tempPath)
		}
	}()

	hasher := md5.New()
	src := &bodyReader{r: body}
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), src)
	if err != nil {
		if src.err != nil {
			return 0, fmt.Errorf("failed to read body: %w", src.err)
		}
		return 0, localIOError("write temp file", tempPath, err)
	}

	computedHash := fmt.Sprintf("%x", hasher.Sum(nil))
	if expectedHash != computedHash {
		return 0, fmt.Errorf("integrity check failed expected %q got %q", expectedHash, computedHash)
	}

	if err := tempFile.Sync(); err != nil {
		return 0, localIOError("sync temp file", tempPath, err)
	}
	if err := tempFile.Close(); err != nil {
		return 0, localIOError("close temp file", tempPath, err)
	}

	if err := fs.Rename(tempPath, name); err != nil {
		return 0, localIOError("rename temp file", name, err)
	}

	success = true
	return written, nil
}

// bodyReader remembers the read error of a download body, to tell it apart from write errors.
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF {
		b.err = err
	}
	return n, err
}
