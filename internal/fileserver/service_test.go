package fileserver

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveAndOpenRoundTrip(t *testing.T) {
	svc := New(t.TempDir(), 1<<20)
	content := []byte("hello portal attachment")

	path, size, err := svc.Save(context.Background(), bytes.NewReader(content), "report.txt")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}
	if filepath.Ext(path) != ".txt" {
		t.Errorf("stored name %q should keep the extension", path)
	}

	// На диске лежит сжатая копия.
	if _, err := os.Stat(filepath.Join(svc.UploadDir, path+".gz")); err != nil {
		t.Errorf("expected gzip blob on disk: %v", err)
	}

	f, err := svc.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("round trip mismatch: got %q", got)
	}
}

func TestSaveRejectsBlockedExtension(t *testing.T) {
	svc := New(t.TempDir(), 1<<20)
	for _, name := range []string{"run.exe", "script.sh", "evil.php"} {
		if _, _, err := svc.Save(context.Background(), strings.NewReader("x"), name); err == nil {
			t.Errorf("Save(%q) should be rejected", name)
		}
	}
}

func TestSaveRejectsMagicMismatch(t *testing.T) {
	svc := New(t.TempDir(), 1<<20)
	// Текст под видом PNG — содержимое не совпадает с magic-байтами.
	if _, _, err := svc.Save(context.Background(), strings.NewReader("definitely not a png"), "photo.png"); err == nil {
		t.Error("Save should reject content that does not match its extension")
	}
}

func TestSaveAcceptsRealPNG(t *testing.T) {
	svc := New(t.TempDir(), 1<<20)
	png := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, bytes.Repeat([]byte{0}, 64)...)
	if _, _, err := svc.Save(context.Background(), bytes.NewReader(png), "photo.png"); err != nil {
		t.Errorf("Save valid png: %v", err)
	}
}

func TestRemove(t *testing.T) {
	svc := New(t.TempDir(), 1<<20)
	path, _, err := svc.Save(context.Background(), strings.NewReader("bye"), "note.txt")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := svc.Open(path); err == nil {
		t.Error("Open after Remove should fail")
	}
}

func TestSafeFilename(t *testing.T) {
	cases := map[string]string{
		"обычный отчёт.pdf": "обычный отчёт.pdf",
		"bad\r\nname.txt":   "badname.txt",
		`quo"te\sla/sh.txt`: "quoteslash.txt",
		"  padded.docx  ":   "padded.docx",
	}
	for in, want := range cases {
		if got := SafeFilename(in); got != want {
			t.Errorf("SafeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestASCIIFallbackFilename(t *testing.T) {
	got := ASCIIFallbackFilename("отчёт v2.pdf")
	for _, r := range got {
		if r > 127 {
			t.Fatalf("ASCIIFallbackFilename = %q, contains non-ascii", got)
		}
	}
	if !strings.HasSuffix(got, "v2.pdf") {
		t.Errorf("ASCIIFallbackFilename = %q, want suffix v2.pdf", got)
	}
	if got := ASCIIFallbackFilename("my file.pdf"); got != "my_file.pdf" {
		t.Errorf("ASCIIFallbackFilename(%q) = %q, want my_file.pdf", "my file.pdf", got)
	}
}
