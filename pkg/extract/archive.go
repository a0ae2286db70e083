package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/CompassSecurity/docleek/pkg/format"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/rs/zerolog/log"
	"golift.io/xtractr"
)

var archiveExtensions = []string{".zip", ".tar", ".tgz", ".gz", ".bz2", ".xz", ".7z", ".rar"}

// archiveSupported reports whether xtractr can expand the file. xtractr
// dispatches on the file name, so a sniffed archive without a known
// extension is left to the text path and rejected there.
func archiveSupported(path string) bool {
	name := strings.ToLower(path)
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func (x *Extractor) expand(ctx context.Context, path, display string, data []byte, depth int) []Document {
	archive := Document{Path: display, SizeBytes: int64(len(data))}
	if depth >= x.archiveDepth {
		archive.Err = &model.Error{Kind: model.KindExtraction, Code: model.CodeUnsupported, Detail: "archive depth exceeded"}
		return []Document{archive}
	}
	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		if n := format.CalculateZipFileSize(data); x.maxSize > 0 && n > uint64(x.maxSize) {
			archive.Err = &model.Error{Kind: model.KindExtraction, Code: model.CodeOversized, Detail: fmt.Sprintf("extracted %d>%d", n, x.maxSize)}
			return []Document{archive}
		}
	}

	out, err := os.MkdirTemp(x.tempDir, "docleek-archive-")
	if err != nil {
		archive.Err = Classify(err)
		return []Document{archive}
	}
	defer func() { _ = os.RemoveAll(out) }()

	xf := &xtractr.XFile{
		FilePath:  path,
		OutputDir: out,
		FileMode:  format.FileUserReadWrite,
		DirMode:   format.DirUserOnly,
	}
	_, files, _, err := xtractr.ExtractFile(xf)
	if err != nil {
		log.Debug().Str("file", display).Err(err).Msg("Unable to expand archive")
		archive.Err = Classify(corrupt(err))
		return []Document{archive}
	}

	slices.Sort(files)
	var docs []Document
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			archive.Err = Classify(err)
			return append(docs, archive)
		}
		if format.IsDirectory(f) {
			continue
		}
		rel, err := filepath.Rel(out, f)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		member := filepath.ToSlash(filepath.Join(display, rel))
		log.Trace().Str("archive", display).Str("member", rel).Int("depth", depth).Msg("Extracting archive member")
		docs = append(docs, x.documents(ctx, f, member, depth+1)...)
	}
	if len(docs) == 0 {
		return []Document{archive}
	}
	return docs
}
