package loader

import (
	"archive/zip"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/r9zhenka/raspberry-rag/internal/chunker"
)

func newTestLoader(t *testing.T, opts ...Option) *Loader {
	t.Helper()
	s, err := chunker.New(40, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return New(s, zap.NewNop(), opts...)
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- Load ---

func TestLoad_Text(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.txt",
		[]byte("Machine learning is a field of study. It focuses on algorithms."))

	chunks := newTestLoader(t).Load(path)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != "Machine learning is a field of study." {
		t.Errorf("chunk[0] = %q", chunks[0])
	}
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "notes.md", []byte("# title"))
	if chunks := newTestLoader(t).Load(path); chunks != nil {
		t.Errorf("expected no chunks, got %q", chunks)
	}
}

func TestLoad_MissingFileDegradesToEmpty(t *testing.T) {
	chunks := newTestLoader(t).Load(filepath.Join(t.TempDir(), "gone.txt"))
	if chunks != nil {
		t.Errorf("expected no chunks, got %q", chunks)
	}
}

func TestLoad_CorruptPDFDegradesToEmpty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.pdf", []byte("not a pdf at all"))
	if chunks := newTestLoader(t).Load(path); chunks != nil {
		t.Errorf("expected no chunks, got %q", chunks)
	}
}

func TestLoad_CorruptDOCXDegradesToEmpty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.docx", []byte("PK nope"))
	if chunks := newTestLoader(t).Load(path); chunks != nil {
		t.Errorf("expected no chunks, got %q", chunks)
	}
}

// --- Extract ---

func TestExtract_TextStripsBOM(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bom.txt", append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello")...))
	text, err := Extract(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q", text)
	}
}

func TestExtract_TextBinaryRejected(t *testing.T) {
	path := writeFile(t, t.TempDir(), "blob.txt", []byte{'a', 0, 0, 0, 'b', 0, 1, 2})
	if _, err := Extract(path); err == nil {
		t.Fatal("expected error for binary content")
	}
}

func TestExtract_TextWindows1251(t *testing.T) {
	encoded, err := charmap.Windows1251.NewEncoder().String("Привет, мир.")
	if err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, t.TempDir(), "ru.txt", []byte(encoded))

	text, err := Extract(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Привет, мир." {
		t.Errorf("text = %q", text)
	}
}

func TestExtract_DOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("word/document.xml")
	_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>First</w:t></w:r><w:r><w:tab/><w:t xml:space="preserve">paragraph.</w:t></w:r></w:p>
<w:p><w:r><w:t>Second paragraph.</w:t></w:r></w:p>
</w:body>
</w:document>`))
	_ = zw.Close()
	_ = f.Close()

	text, err := Extract(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "First\tparagraph.\nSecond paragraph." {
		t.Errorf("text = %q", text)
	}
}

func TestExtract_DOCXWithoutBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.docx")
	f, _ := os.Create(path)
	zw := zip.NewWriter(f)
	_, _ = zw.Create("docProps/app.xml")
	_ = zw.Close()
	_ = f.Close()

	if _, err := Extract(path); err == nil || !strings.Contains(err.Error(), "document.xml") {
		t.Errorf("expected missing document.xml error, got %v", err)
	}
}

// --- ListSupported ---

func TestListSupported_SortedAbsoluteFiltered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", []byte("b"))
	writeFile(t, dir, "a.PDF", []byte("a"))
	writeFile(t, dir, "c.docx", []byte("c"))
	writeFile(t, dir, "skip.md", []byte("skip"))
	if err := os.Mkdir(filepath.Join(dir, "sub.txt"), 0o700); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "nested")
	_ = os.Mkdir(sub, 0o700)
	writeFile(t, sub, "deep.txt", []byte("deep"))

	got, err := newTestLoader(t).ListSupported(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.PDF"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "c.docx"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestListSupported_IgnoreFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", []byte("keep"))
	writeFile(t, dir, "draft-1.txt", []byte("draft"))
	writeFile(t, dir, DefaultIgnoreFile, []byte("# drafts\ndraft-*.txt\n"))

	got, err := newTestLoader(t).ListSupported(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "keep.txt" {
		t.Errorf("got %v", got)
	}

	all, _ := newTestLoader(t, WithIgnoreFile("")).ListSupported(dir)
	if len(all) != 2 {
		t.Errorf("ignore disabled: got %v", all)
	}
}

func TestListSupported_MissingDir(t *testing.T) {
	_, err := newTestLoader(t).ListSupported(filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatal("expected error")
	}
}
