package extract

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// Errors reported by [Text].
var (
	ErrUnsupported = errors.New("unsupported file type")
	ErrMalformed   = errors.New("malformed document")
)

// InflateRatio bounds the decoded size of compressed documents relative to
// the upload limit.
const inflateRatio = 4

// Text returns the text of the document, dispatching on the extension of
// "filename". Compressed formats may decode to at most four times
// [DefaultMaxBytes]; larger ones report [ErrTooLarge].
func Text(filename string, b []byte) (string, error) {
	return docText(filename, b, inflateRatio*DefaultMaxBytes)
}

func docText(filename string, b []byte, limit int64) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	var (
		s   string
		err error
	)
	switch ext {
	case ".docx":
		s, err = docxText(b, limit)
	case ".pdf":
		s, err = pdfText(b, limit)
	case ".html", ".htm":
		s, err = htmlText(b)
	case ".txt", ".md", ".markdown":
		if !utf8.Valid(b) {
			return "", fmt.Errorf("%w: %s: not UTF-8", ErrMalformed, filename)
		}
		s = string(b)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, filename)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", filename, err)
	}
	return s, nil
}
