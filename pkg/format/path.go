package format

import (
	"os"
	"path/filepath"
	"strings"
)

func IsDirectory(path string) bool {
	fileInfo, err := os.Stat(path)
	if err != nil {
		// Treat non-existent paths as directories to allow callers to
		// create them without failing this check.
		return true
	}
	return fileInfo.IsDir()
}

// MatchesExclude reports whether any element of path matches one of the glob
// patterns, e.g. "node_modules" or "*.egg-info".
func MatchesExclude(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "" {
			continue
		}
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, part); ok {
				return true
			}
		}
	}
	return false
}
