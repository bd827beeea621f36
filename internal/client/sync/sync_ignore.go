package sync

import (
	"bufio"
	"log/slog"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

const (
	ignoreFileName = ".syncignore"
	// tmpDirName holds partial downloads inside the sync root
	tmpDirName = ".syncbox-tmp"
)

var defaultIgnoreLines = []string{
	// syncbox
	tmpDirName + "/",
	"*.syncbox.tmp.*",
	// IDE/Editor-specific
	".vscode",
	".idea",
	// General excludes
	".git",
	"*.tmp",
	"*.swp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"Icon",
}

type SyncIgnoreList struct {
	fs     afero.Fs
	ignore *gitignore.GitIgnore
}

// NewSyncIgnoreList reads rules from the ignore file at the root of fs.
func NewSyncIgnoreList(fs afero.Fs) *SyncIgnoreList {
	return &SyncIgnoreList{fs: fs}
}

func (s *SyncIgnoreList) Load() {
	ignorePath := "/" + ignoreFileName
	ignoreLines := append([]string{}, defaultIgnoreLines...)

	if ok, _ := afero.Exists(s.fs, ignorePath); ok {
		rules := 0
		file, err := s.fs.Open(ignorePath)
		if err != nil {
			slog.Warn("failed to open ignore file", "path", ignorePath, "error", err)
		} else {
			defer file.Close()

			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line != "" && !strings.HasPrefix(line, "#") {
					ignoreLines = append(ignoreLines, line)
					rules++
				}
			}

			if err := scanner.Err(); err != nil {
				slog.Warn("error reading ignore file", "path", ignorePath, "error", err)
			} else {
				slog.Info("loaded ignore file", "path", ignorePath, "rules", rules)
			}
		}
	}

	s.ignore = gitignore.CompileIgnoreLines(ignoreLines...)
}

// ShouldIgnore matches a slash-separated path relative to the sync root.
func (s *SyncIgnoreList) ShouldIgnore(path string) bool {
	if s == nil || s.ignore == nil {
		return false
	}
	return s.ignore.MatchesPath(strings.TrimPrefix(path, "/"))
}
