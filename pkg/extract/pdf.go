package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfText extracts the plain text of every page. Pages that fail to decode
// are skipped, a document without any readable page is corrupt.
func pdfText(ctx context.Context, data []byte) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			text, err = "", corrupt(fmt.Errorf("pdf parser panicked: %v", p))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", corrupt(err)
	}

	var out strings.Builder
	read := 0
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		read++
		out.WriteString(content)
		out.WriteByte('\n')
	}
	if read == 0 && r.NumPage() > 0 {
		return "", corrupt(fmt.Errorf("no readable page in %d", r.NumPage()))
	}
	return out.String(), nil
}
