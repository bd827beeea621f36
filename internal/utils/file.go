package utils

import (
	"crypto/md5"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// FileHash calculates the MD5 hash of a file
func FileHash(fsys afero.Fs, name string) (string, error) {
	file, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return ReaderHash(file)
}

// ReaderHash calculates the MD5 hash of everything left in r
func ReaderHash(r io.Reader) (string, error) {
	hash := md5.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// BytesHash calculates the MD5 hash of b
func BytesHash(b []byte) string {
	return fmt.Sprintf("%x", md5.Sum(b))
}
