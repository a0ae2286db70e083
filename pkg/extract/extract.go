// Package extract turns files on disk into plain text for detection.
//
// Regular files yield one Document. Archives are expanded and yield one
// Document per member, nested archives up to a configured depth. Failures
// never abort a scan, they are carried on the Document as a structured error.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
)

// Document is the extracted text of one file or archive member.
type Document struct {
	// Path is the file path, archive members are addressed as archive/member
	Path       string
	Text       string
	SizeBytes  int64
	ModifiedAt time.Time
	Err        *model.Error
}

// Extractor is safe for concurrent use.
type Extractor struct {
	maxSize      int64
	archiveDepth int
	tempDir      string
}

func New(opts config.ScanOptions) (*Extractor, error) {
	maxSize, err := config.ParseMaxFileSize(opts.MaxFileSize)
	if err != nil {
		return nil, err
	}
	return &Extractor{maxSize: maxSize, archiveDepth: max(opts.ArchiveDepth, 0), tempDir: opts.QueueFolder}, nil
}

// Documents extracts the file at path.
func (x *Extractor) Documents(ctx context.Context, path string) []Document {
	return x.documents(ctx, path, path, 0)
}

func (x *Extractor) documents(ctx context.Context, path, display string, depth int) []Document {
	doc := Document{Path: display}

	info, err := os.Stat(path)
	if err != nil {
		doc.Err = Classify(err)
		return []Document{doc}
	}
	doc.SizeBytes, doc.ModifiedAt = info.Size(), info.ModTime()
	if info.IsDir() {
		doc.Err = model.Errorf(model.KindExtraction, model.CodeUnsupported, "%s is a directory", display)
		return []Document{doc}
	}
	if info.Size() > x.maxSize {
		doc.Err = &model.Error{
			Kind:   model.KindExtraction,
			Code:   model.CodeOversized,
			Detail: fmt.Sprintf("%d>%d", info.Size(), x.maxSize),
		}
		return []Document{doc}
	}

	// #nosec G304 - path comes from walking the user supplied scan root
	data, err := os.ReadFile(path)
	if err != nil {
		doc.Err = Classify(err)
		return []Document{doc}
	}
	if err := ctx.Err(); err != nil {
		doc.Err = Classify(err)
		return []Document{doc}
	}

	kind, _ := filetype.Match(data)
	switch {
	case isOffice(kind):
		doc.Text, err = officeText(ctx, data)
	case kind.MIME.Value == "application/pdf":
		doc.Text, err = pdfText(ctx, data)
	case filetype.IsArchive(data) && archiveSupported(path):
		return x.expand(ctx, path, display, data, depth)
	case kind != filetype.Unknown:
		err = unsupported("%s content", kind.MIME.Value)
	case isHTML(path, data):
		doc.Text, err = htmlText(data)
	default:
		doc.Text, err = plainText(data)
	}
	if err != nil {
		doc.Err = Classify(err)
		doc.Text = ""
	}
	return []Document{doc}
}

type extractionErr struct {
	code string
	err  error
}

func (e *extractionErr) Error() string { return e.err.Error() }
func (e *extractionErr) Unwrap() error { return e.err }

func unsupported(format string, args ...any) error {
	return &extractionErr{code: model.CodeUnsupported, err: fmt.Errorf(format, args...)}
}

func corrupt(err error) error {
	return &extractionErr{code: model.CodeCorrupt, err: err}
}

// Classify maps an extraction failure onto its structured code.
func Classify(err error) *model.Error {
	var ee *extractionErr
	var me *model.Error
	switch {
	case errors.As(err, &me):
		return me
	case errors.As(err, &ee):
		return &model.Error{Kind: model.KindExtraction, Code: ee.code, Detail: ee.err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &model.Error{Kind: model.KindExtraction, Code: model.CodeTimeout}
	case errors.Is(err, context.Canceled):
		return &model.Error{Kind: model.KindExtraction, Code: model.CodeTimeout, Detail: "cancelled"}
	case errors.Is(err, fs.ErrPermission):
		return &model.Error{Kind: model.KindExtraction, Code: model.CodeLocked}
	case errors.Is(err, fs.ErrNotExist):
		return &model.Error{Kind: model.KindExtraction, Code: model.CodeNotFound}
	case errors.Is(err, io.ErrUnexpectedEOF):
		return &model.Error{Kind: model.KindExtraction, Code: model.CodeCorrupt}
	}
	log.Debug().Err(err).Msg("Unclassified extraction error")
	return &model.Error{Kind: model.KindExtraction, Code: model.CodeCorrupt}
}

func isHTML(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	head := strings.ToLower(string(data[:min(len(data), 512)]))
	head = strings.TrimSpace(strings.TrimPrefix(head, "\ufeff"))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
