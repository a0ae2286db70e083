package scan

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/CompassSecurity/docleek/pkg/format"
	"github.com/rs/zerolog/log"
)

// walk visits every regular file under root in lexical order. Excluded path
// elements are not descended into and symlinks are not followed. Unreadable
// entries are passed to visit with their error.
func walk(root string, excludes []string, visit func(path string, err error) error) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return visit(root, nil)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return visit(path, err)
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			rel = path
		}
		if rel != "." && format.MatchesExclude(rel, excludes) {
			log.Trace().Str("path", path).Msg("Excluded")
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		return visit(path, nil)
	})
}
