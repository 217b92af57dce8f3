package extract

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/beevik/etree"
	"github.com/klauspost/compress/zip"
)

const docxPart = "word/document.xml"

// DocxText returns the paragraph text of an Office Open XML document. The
// document part may not inflate past "limit" bytes.
func docxText(b []byte, limit int64) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	i := slices.IndexFunc(zr.File, func(f *zip.File) bool { return f.Name == docxPart })
	if i < 0 {
		return "", fmt.Errorf("%w: no document part", ErrMalformed)
	}
	f := zr.File[i]
	if f.UncompressedSize64 > uint64(limit) {
		return "", fmt.Errorf("%w: document part is %d bytes", ErrTooLarge, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer rc.Close()
	// The header size is only a claim.
	part, err := io.ReadAll(io.LimitReader(rc, limit+1))
	switch {
	case int64(len(part)) > limit:
		return "", fmt.Errorf("%w: document part exceeds %d bytes", ErrTooLarge, limit)
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(part); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	root := doc.Root()
	if root == nil {
		return "", fmt.Errorf("%w: empty document part", ErrMalformed)
	}
	var buf strings.Builder
	walkDocx(&buf, root)
	return strings.TrimRight(buf.String(), "\n"), nil
}

// WalkDocx writes the text runs under "e". Elements are matched by local
// name only.
func walkDocx(buf *strings.Builder, e *etree.Element) {
	for _, c := range e.ChildElements() {
		switch c.Tag {
		case "t":
			buf.WriteString(c.Text())
		case "tab":
			buf.WriteByte('\t')
		case "br", "cr":
			buf.WriteByte('\n')
		case "p":
			walkDocx(buf, c)
			buf.WriteByte('\n')
		case "instrText", "delText":
			// Field codes and deleted revisions aren't document text.
		default:
			walkDocx(buf, c)
		}
	}
}
