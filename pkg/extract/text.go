package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// plainText decodes UTF-8, with or without BOM, and falls back to Latin-1.
// Content holding NUL bytes is treated as binary.
func plainText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		if bytes.IndexByte(data, 0) >= 0 {
			return "", unsupported("binary content")
		}
		return string(data), nil
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", unsupported("binary content")
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", corrupt(err)
	}
	return string(out), nil
}

// htmlText returns the visible text of an HTML document, one block per line.
func htmlText(data []byte) (string, error) {
	text, err := plainText(data)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return "", corrupt(err)
	}
	doc.Find("script, style, noscript, template").Remove()

	var lines []string
	doc.Find("title, h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote, dt, dd, label, span, a, div").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 && !s.Is("p, li, td, th, pre") {
			return
		}
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			lines = append(lines, t)
		}
	})
	if len(lines) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " "), nil
	}
	return strings.Join(lines, "\n"), nil
}
