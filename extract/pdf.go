package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PdfText returns the text shown on the pages of a PDF.
//
// Every stream the text interpreter will decode (page contents and font
// ToUnicode maps) is first drained against "limit" decoded bytes, so a
// document that inflates past it reports [ErrTooLarge] before any text is
// accumulated.
func pdfText(b []byte, limit int64) (_ string, err error) {
	if !bytes.HasPrefix(b, []byte("%PDF-")) {
		return "", fmt.Errorf("%w: missing PDF header", ErrMalformed)
	}
	// The reader panics on a range of malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	budget := limit
	fonts := make(map[string]*pdf.Font)
	var buf strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			// The page count in the trailer is only a claim.
			break
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; ok {
				continue
			}
			f := p.Font(name)
			if err := drain(&budget, f.V.Key("ToUnicode")); err != nil {
				return "", err
			}
			fonts[name] = &f
		}
		if err := drain(&budget, p.V.Key("Contents")); err != nil {
			return "", err
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrMalformed, i, err)
		}
		buf.WriteString(text)
		buf.WriteByte('\n')
	}

	var lines []string
	for l := range strings.Lines(buf.String()) {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// Drain decodes the stream or array of streams in "v", charging the decoded
// length against "budget".
func drain(budget *int64, v pdf.Value) error {
	var ss []pdf.Value
	switch v.Kind() {
	case pdf.Stream:
		ss = append(ss, v)
	case pdf.Array:
		for i := range v.Len() {
			if s := v.Index(i); s.Kind() == pdf.Stream {
				ss = append(ss, s)
			}
		}
	}
	for _, s := range ss {
		rc := s.Reader()
		n, err := io.Copy(io.Discard, io.LimitReader(rc, *budget+1))
		rc.Close()
		*budget -= n
		if *budget < 0 {
			return ErrTooLarge
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return nil
}
