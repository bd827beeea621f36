package utils

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectContentType sniffs head first and falls back to the extension of key.
func DetectContentType(key string, head []byte) string {
	if isTextLike(key) {
		return "text/plain; charset=utf-8"
	}
	if len(head) > 0 {
		if mt := mimetype.Detect(head); mt != nil && mt.String() != "application/octet-stream" {
			return mt.String()
		}
	}
	if mimeType := mime.TypeByExtension(filepath.Ext(key)); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}

func isTextLike(key string) bool {
	return strings.HasSuffix(key, ".yaml") ||
		strings.HasSuffix(key, ".yml") ||
		strings.HasSuffix(key, ".toml") ||
		strings.HasSuffix(key, ".md")
}
