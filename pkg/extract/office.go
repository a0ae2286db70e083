package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"slices"
	"strings"

	"github.com/h2non/filetype/types"
)

// maxPartBytes caps how much of a single OOXML part is read.
const maxPartBytes = 64 << 20

func isOffice(kind types.Type) bool {
	switch kind.Extension {
	case "docx", "xlsx", "pptx":
		return true
	}
	return false
}

func officePart(name string) bool {
	switch {
	case name == "word/document.xml", name == "xl/sharedStrings.xml":
		return true
	case strings.HasPrefix(name, "word/header"), strings.HasPrefix(name, "word/footer"),
		strings.HasPrefix(name, "word/footnotes"), strings.HasPrefix(name, "word/comments"):
		return strings.HasSuffix(name, ".xml")
	case strings.HasPrefix(name, "ppt/slides/slide"), strings.HasPrefix(name, "ppt/notesSlides/"):
		return strings.HasSuffix(name, ".xml")
	case strings.HasPrefix(name, "xl/worksheets/sheet"):
		return strings.HasSuffix(name, ".xml")
	}
	return false
}

// officeText pulls the character data out of the text bearing parts of a
// docx, xlsx or pptx package. Paragraphs and rows end a line.
func officeText(ctx context.Context, data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", corrupt(err)
	}

	files := slices.Clone(zr.File)
	slices.SortFunc(files, func(a, b *zip.File) int { return strings.Compare(a.Name, b.Name) })

	var out strings.Builder
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !officePart(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", corrupt(err)
		}
		err = xmlText(io.LimitReader(rc, maxPartBytes), &out)
		_ = rc.Close()
		if err != nil {
			return "", corrupt(err)
		}
	}
	return out.String(), nil
}

// lineElements end a line of output when they close.
var lineElements = map[string]bool{"p": true, "br": true, "row": true, "si": true, "tr": true}

func xmlText(r io.Reader, out *strings.Builder) error {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			out.Write(t)
		case xml.StartElement:
			if t.Name.Local == "tab" {
				out.WriteByte('\t')
			}
			if t.Name.Local == "c" {
				out.WriteByte(' ')
			}
		case xml.EndElement:
			if lineElements[t.Name.Local] {
				out.WriteByte('\n')
			}
		}
	}
}
