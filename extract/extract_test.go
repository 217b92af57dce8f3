package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zlib"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/test"
)

func TestDefaultPatterns(t *testing.T) {
	// Panics on a bad table.
	Default()
}

func TestDetect(t *testing.T) {
	tt := []struct {
		Name string
		In   string
		Want map[string]string
	}{
		{
			Name: "Empty",
			In:   "",
			Want: map[string]string{},
		},
		{
			Name: "Network",
			In: `An unauthenticated attacker can exploit this remotely over the network.
Exploitation is trivial and requires no user interaction.
The flaw has a high confidentiality impact.`,
			Want: map[string]string{
				"AV": "N",
				"AC": "L",
				"PR": "N",
				"UI": "N",
				"C":  "H",
			},
		},
		{
			Name: "Physical",
			In:   "Requires physical access to the device and administrator credentials. Denial of service follows.",
			Want: map[string]string{
				"AV": "P",
				"PR": "H",
				"A":  "H",
			},
		},
		{
			Name: "CaseInsensitive",
			In:   "SANDBOX ESCAPE via a RACE CONDITION",
			Want: map[string]string{
				"AC": "H",
				"S":  "C",
			},
		},
	}
	x := Default()
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			got := x.Detect(tc.In)
			if !cmp.Equal(got, tc.Want) {
				t.Error(cmp.Diff(got, tc.Want))
			}
		})
	}
}

func TestDetectTie(t *testing.T) {
	const table = `
- metric: AV
  values:
    - value: n
      patterns: ['foo']
    - value: L
      patterns: ['foo']
- metric: AC
  values:
    - value: L
      patterns: ['foo']
    - value: H
      patterns: ['foo', 'bar']
`
	x, err := New(&Options{Patterns: strings.NewReader(table)})
	if err != nil {
		t.Fatal(err)
	}
	got := x.Detect("foo bar")
	want := map[string]string{"AV": "N", "AC": "H"}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestBadPatterns(t *testing.T) {
	tt := map[string]string{
		"Syntax":        "- metric: [",
		"UnknownField":  "- metric: AV\n  weight: 2\n",
		"UnknownMetric": "- metric: XX\n  values: []\n",
		"Duplicate":     "- metric: AV\n- metric: av\n",
		"BadValue":      "- metric: AV\n  values:\n    - value: Q\n      patterns: ['x']\n",
		"BadRegexp":     "- metric: AV\n  values:\n    - value: N\n      patterns: ['(']\n",
	}
	for name, in := range tt {
		t.Run(name, func(t *testing.T) {
			if _, err := New(&Options{Patterns: strings.NewReader(in)}); err == nil {
				t.Error("expected error")
			} else {
				t.Log(err)
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	x := Default()
	t.Run("Vector", func(t *testing.T) {
		const text = `Heap overflow in the frobnicator
See cve-2024-12345 for details. Scored as
CVSS:3.0/AV:X/AC:L and later CVSS:3.0/AV:L/AC:H/PR:H/UI:R/S:U/C:N/I:N/A:L
even though it is reachable over the network.`
		f := x.Analyze("advisory.txt", text)
		want := &Findings{
			Filename: "advisory.txt",
			Title:    "Heap overflow in the frobnicator",
			CVEID:    "CVE-2024-12345",
			Vector:   "CVSS:3.1/AV:L/AC:H/PR:H/UI:R/S:U/C:N/I:N/A:L",
			Metrics: map[string]string{
				"AV": "L", "AC": "H", "PR": "H", "UI": "R",
				"S": "U", "C": "N", "I": "N", "A": "L",
			},
			Text: text,
		}
		if !cmp.Equal(f, want) {
			t.Error(cmp.Diff(f, want))
		}
		if !f.Complete() {
			t.Error("want complete findings")
		}
	})
	t.Run("Heuristic", func(t *testing.T) {
		f := x.Analyze("a.txt", "Summary\nshort\nRemote attackers may crash the service.")
		if got, want := f.Title, "Remote attackers may crash the service."; got != want {
			t.Errorf("title: got: %q, want: %q", got, want)
		}
		if f.Vector != "" {
			t.Errorf("unexpected vector: %q", f.Vector)
		}
		if got, want := f.Metrics["AV"], "N"; got != want {
			t.Errorf("AV: got: %q, want: %q", got, want)
		}
		if f.Complete() {
			t.Error("want incomplete findings")
		}
	})
}

func TestTitle(t *testing.T) {
	tt := map[string]struct {
		In, Want string
	}{
		"Empty":     {"", defaultTitle},
		"TooShort":  {"Bug\nCrash", defaultTitle},
		"Header":    {"Executive Summary of findings\nBuffer overflow in libfoo", "Buffer overflow in libfoo"},
		"Trimmed":   {"   Buffer overflow in libfoo   \n", "Buffer overflow in libfoo"},
		"TooLong":   {strings.Repeat("x", maxTitle+1) + "\nA reasonable title", "A reasonable title"},
		"ExactMin":  {strings.Repeat("y", minTitle), strings.Repeat("y", minTitle)},
		"Multibyte": {"Überlauf im Parser", "Überlauf im Parser"},
	}
	for name, tc := range tt {
		t.Run(name, func(t *testing.T) {
			if got := Title(tc.In); got != tc.Want {
				t.Errorf("got: %q, want: %q", got, tc.Want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	short := strings.Repeat("é", previewRunes)
	if got := Preview(short); got != short {
		t.Error("short text modified")
	}
	long := short + "tail"
	want := short + "..."
	if got := Preview(long); got != want {
		t.Errorf("got %d bytes, want %d bytes", len(got), len(want))
	}
}

func TestCVEID(t *testing.T) {
	tt := map[string]string{
		"nothing here":                  "",
		"see CVE-2021-44228 and others": "CVE-2021-44228",
		"first cve-2019-0001, then CVE-2020-1234567": "CVE-2019-0001",
		"not XCVE-2020-1234":                         "",
		"too short CVE-2020-123":                     "",
	}
	for in, want := range tt {
		if got := CVEID(in); got != want {
			t.Errorf("%q: got: %q, want: %q", in, got, want)
		}
	}
}

func TestText(t *testing.T) {
	t.Run("Plain", func(t *testing.T) {
		for _, name := range []string{"a.txt", "B.MD", "c.markdown"} {
			got, err := Text(name, []byte("plain text"))
			if err != nil {
				t.Error(err)
			}
			if got != "plain text" {
				t.Errorf("%s: got: %q", name, got)
			}
		}
	})
	t.Run("NotUTF8", func(t *testing.T) {
		_, err := Text("a.txt", []byte{0xff, 0xfe})
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("got: %v, want: %v", err, ErrMalformed)
		}
	})
	t.Run("Unsupported", func(t *testing.T) {
		for _, name := range []string{"a.exe", "noext", "a.doc"} {
			_, err := Text(name, []byte("x"))
			if !errors.Is(err, ErrUnsupported) {
				t.Errorf("%s: got: %v, want: %v", name, err, ErrUnsupported)
			}
		}
	})
	t.Run("HTML", func(t *testing.T) {
		const in = `<!DOCTYPE html>
<html><head><title>ignored</title><style>p { color: red }</style></head>
<body><h1>Stored XSS in comments</h1>
<p>Some   <b>bold</b>
text</p><script>var x = "hidden";</script><div>one<br>two</div></body></html>`
		got, err := Text("a.html", []byte(in))
		if err != nil {
			t.Fatal(err)
		}
		want := "Stored XSS in comments\nSome bold text\none\ntwo"
		if got != want {
			t.Error(cmp.Diff(got, want))
		}
	})
	t.Run("Docx", func(t *testing.T) {
		got, err := Text("report.docx", docx(t, `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Heap overflow</w:t></w:r><w:r><w:t xml:space="preserve"> in parser</w:t></w:r></w:p>
<w:p><w:r><w:t>Col1</w:t><w:tab/><w:t>Col2</w:t><w:br/><w:t>Next</w:t></w:r></w:p>
<w:p><w:r><w:instrText>PAGE</w:instrText></w:r></w:p>
</w:body>
</w:document>`))
		if err != nil {
			t.Fatal(err)
		}
		want := "Heap overflow in parser\nCol1\tCol2\nNext"
		if got != want {
			t.Error(cmp.Diff(got, want))
		}
	})
	t.Run("DocxMalformed", func(t *testing.T) {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)
		if _, err := zw.Create("word/other.xml"); err != nil {
			t.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
		for name, b := range map[string][]byte{
			"NotZip":     []byte("PK but not really"),
			"NoDocument": buf.Bytes(),
		} {
			if _, err := Text("x.docx", b); !errors.Is(err, ErrMalformed) {
				t.Errorf("%s: got: %v, want: %v", name, err, ErrMalformed)
			}
		}
	})
	t.Run("PDF", func(t *testing.T) {
		const content = `BT /F1 12 Tf 72 720 Td (Remote Code Execution in Widget) Tj ET
BT /F1 12 Tf 72 700 Td [(over the) -250 ( net) 15 (work)] TJ ET
BT /F1 12 Tf 72 680 Td <48656C6C6F> Tj ET`
		got, err := Text("a.pdf", pdfDoc(t, content, true))
		if err != nil {
			t.Fatal(err)
		}
		want := "Remote Code Execution in Widget\nover the network\nHello"
		if got != want {
			t.Error(cmp.Diff(got, want))
		}
	})
	t.Run("PDFUncompressed", func(t *testing.T) {
		const content = `BT /F1 12 Tf (a \(paren\) \101\tb) Tj ET`
		got, err := Text("a.pdf", pdfDoc(t, content, false))
		if err != nil {
			t.Fatal(err)
		}
		want := "a (paren) A\tb"
		if got != want {
			t.Error(cmp.Diff(got, want))
		}
	})
	t.Run("PDFMalformed", func(t *testing.T) {
		for name, b := range map[string][]byte{
			"NoHeader":  []byte("not a pdf"),
			"Truncated": []byte("%PDF-1.4\n1 0 obj\n<< >>\nstream\n"),
			"NoXref":    []byte("%PDF-1.4\n" + strings.Repeat("% padding\n", 20) + "%%EOF\n"),
		} {
			if _, err := Text("x.pdf", b); !errors.Is(err, ErrMalformed) {
				t.Errorf("%s: got: %v, want: %v", name, err, ErrMalformed)
			}
		}
	})
}

func TestInflateLimit(t *testing.T) {
	ctx := test.Logging(t)
	const limit = 16 << 10
	x, err := New(&Options{MaxBytes: limit})
	if err != nil {
		t.Fatal(err)
	}
	// Both documents compress to well under the upload limit.
	big := strings.Repeat(" ", 8*limit)
	for name, b := range map[string][]byte{
		"PDF":  pdfDoc(t, "BT (x) Tj ET"+big, true),
		"Docx": docx(t, `<w:document xmlns:w="w"><w:body><w:p><w:r><w:t>x</w:t></w:r></w:p></w:body></w:document>`+big),
	} {
		t.Run(name, func(t *testing.T) {
			if len(b) > limit {
				t.Fatalf("test document is %d bytes", len(b))
			}
			_, err := x.Document(ctx, "bomb."+strings.ToLower(name), bytes.NewReader(b))
			if !errors.Is(err, ErrTooLarge) {
				t.Errorf("got: %v, want: %v", err, ErrTooLarge)
			}
			if !errors.Is(err, cvssd.ErrInvalid) {
				t.Errorf("got: %v, want kind: %v", err, cvssd.ErrInvalid)
			}
		})
	}
	t.Run("UnderLimit", func(t *testing.T) {
		b := pdfDoc(t, "BT (CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H) Tj ET"+strings.Repeat(" ", limit), true)
		f, err := x.Document(ctx, "ok.pdf", bytes.NewReader(b))
		if err != nil {
			t.Fatal(err)
		}
		if !f.Complete() {
			t.Errorf("want complete findings: %+v", f)
		}
	})
}

func TestDocument(t *testing.T) {
	ctx := test.Logging(t)
	t.Run("OK", func(t *testing.T) {
		f, err := Default().Document(ctx, "notes.md", strings.NewReader("# Remote crash in a daemon\nCVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"))
		if err != nil {
			t.Fatal(err)
		}
		if got, want := f.Title, "# Remote crash in a daemon"; got != want {
			t.Errorf("got: %q, want: %q", got, want)
		}
		if !f.Complete() {
			t.Error("want complete findings")
		}
	})
	t.Run("TooLarge", func(t *testing.T) {
		x, err := New(&Options{MaxBytes: 10})
		if err != nil {
			t.Fatal(err)
		}
		_, err = x.Document(ctx, "a.txt", strings.NewReader(strings.Repeat("x", 11)))
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("got: %v, want: %v", err, ErrTooLarge)
		}
		if !errors.Is(err, cvssd.ErrInvalid) {
			t.Errorf("got: %v, want kind: %v", err, cvssd.ErrInvalid)
		}
		if _, err := x.Document(ctx, "a.txt", strings.NewReader(strings.Repeat("x", 10))); err != nil {
			t.Errorf("document at limit: %v", err)
		}
	})
	t.Run("Unsupported", func(t *testing.T) {
		_, err := Default().Document(ctx, "a.bin", strings.NewReader("x"))
		if !errors.Is(err, ErrUnsupported) || !errors.Is(err, cvssd.ErrInvalid) {
			t.Errorf("got: %v", err)
		}
	})
}

func docx(t *testing.T, document string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"[Content_Types].xml": `<?xml version="1.0"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`,
		"word/document.xml":   document,
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// PdfDoc builds a single page document with "content" as its content stream.
func pdfDoc(t *testing.T, content string, compress bool) []byte {
	t.Helper()
	data := []byte(content)
	filter := ""
	if compress {
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		if _, err := zw.Write(data); err != nil {
			t.Fatal(err)
		}
		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
		data = z.Bytes()
		filter = " /Filter /FlateDecode"
	}
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d%s >>\nstream\n%s\nendstream", len(data), filter, data),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offs := make([]int, len(objs))
	for i, o := range objs {
		offs[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offs {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}
