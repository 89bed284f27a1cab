package loader

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-enry/go-enry/v2"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
)

var (
	errBinaryContent = errors.New("binary content in text file")
	errNoDocumentXML = errors.New("word/document.xml missing")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func extractText(path string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if enry.IsBinary(data) {
		return "", fmt.Errorf("%s: %w", path, errBinaryContent)
	}
	if utf8.Valid(data) {
		return string(data), nil
	}

	// Legacy Russian text files are usually windows-1251.
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s as windows-1251: %w", path, err)
	}
	return string(decoded), nil
}

// extractPDF joins the plain text of every page with newlines.
func extractPDF(path string) (text string, err error) {
	f, r, err := pdf.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	// the pdf package panics on some malformed streams
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("parse pdf %s: %v", path, rec)
		}
	}()

	pages := make([]string, 0, r.NumPage())
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		pt, err := p.GetPlainText(fonts)
		if err != nil {
			return "", fmt.Errorf("pdf %s page %d: %w", path, i, err)
		}
		pages = append(pages, pt)
	}
	return strings.Join(pages, "\n"), nil
}

// extractDOCX returns paragraph text of word/document.xml, one paragraph per line.
func extractDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open docx %s: %w", path, err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s in %s: %w", f.Name, path, err)
		}
		defer func() { _ = rc.Close() }()
		text, err := docxParagraphs(rc)
		if err != nil {
			return "", fmt.Errorf("parse docx %s: %w", path, err)
		}
		return text, nil
	}
	return "", fmt.Errorf("%s: %w", path, errNoDocumentXML)
}

// WordprocessingML namespace of w:p, w:t, w:tab and w:br.
const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

func docxParagraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		paras  []string
		cur    strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err //nolint:wrapcheck // wrapped by caller
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteByte('\t')
			case "br", "cr":
				cur.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				paras = append(paras, cur.String())
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	if cur.Len() > 0 {
		paras = append(paras, cur.String())
	}
	return strings.Join(paras, "\n"), nil
}
