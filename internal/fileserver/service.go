package fileserver

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Блокируем только опасные расширения (исполняемые/скрипты). Остальные — разрешены.
var BlockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

// Service — блоб-хранилище вложений: файлы хранятся сжатыми (.gz) под uuid-именем.
type Service struct {
	UploadDir     string
	MaxUploadSize int64
}

// New создаёт хранилище с заданным каталогом и лимитом размера (в байтах).
func New(uploadDir string, maxUploadSize int64) *Service {
	return &Service{UploadDir: uploadDir, MaxUploadSize: maxUploadSize}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Save сохраняет содержимое r под новым uuid-именем (сжато .gz).
// Возвращает имя файла в хранилище (для message_attachments.file_path) и исходный размер.
// Расширение берётся из origName; опасные расширения и несовпадение magic-байтов — ошибка.
func (s *Service) Save(ctx context.Context, r io.Reader, origName string) (path string, size int64, err error) {
	// В ряде клиентов/прокси пробел в имени кодируется как "+"; нормализуем.
	rawName := strings.ReplaceAll(origName, "+", " ")
	ext := strings.ToLower(filepath.Ext(rawName))
	if BlockedExt[ext] {
		return "", 0, fmt.Errorf("file type not allowed: %s", ext)
	}

	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(r, head, len(head))
	head = head[:n]
	if !matchMagic(ext, head) {
		return "", 0, fmt.Errorf("file content does not match type %s", ext)
	}

	newName := uuid.New().String() + ext
	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}

	dstPath := filepath.Join(s.UploadDir, newName+".gz")
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", 0, fmt.Errorf("create blob: %w", err)
	}
	gz := gzip.NewWriter(dst)
	if _, err := gz.Write(head); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(dstPath)
		return "", 0, fmt.Errorf("write blob: %w", err)
	}
	cr := &countingReader{r: r}
	if err := copyWithContext(ctx, gz, cr); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(dstPath)
		return "", 0, err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", 0, fmt.Errorf("close gzip: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", 0, fmt.Errorf("close blob: %w", err)
	}
	return newName, int64(n) + cr.n, nil
}

type gzReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzReadCloser) Close() error {
	g.gz.Close()
	return g.f.Close()
}

// Open открывает блоб по имени из хранилища (разархивирует .gz при чтении).
// Обычный файл без .gz поддерживается для обратной совместимости.
func (s *Service) Open(path string) (io.ReadCloser, error) {
	name := filepath.Base(path)
	if f, err := os.Open(filepath.Join(s.UploadDir, name+".gz")); err == nil {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open blob %s: %w", name, err)
		}
		return &gzReadCloser{gz: gz, f: f}, nil
	}
	f, err := os.Open(filepath.Join(s.UploadDir, name))
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", name, err)
	}
	return f, nil
}

// Remove удаляет блоб (после удаления строки вложения).
func (s *Service) Remove(path string) error {
	name := filepath.Base(path)
	if err := os.Remove(filepath.Join(s.UploadDir, name+".gz")); err == nil {
		return nil
	}
	return os.Remove(filepath.Join(s.UploadDir, name))
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".pdf":
		return len(head) >= 5 && bytes.Equal(head[:5], []byte("%PDF-"))
	case ".doc":
		return len(head) >= 8 && head[0] == 0xD0 && head[1] == 0xCF && head[2] == 0x11 && head[3] == 0xE0
	case ".docx", ".xlsx", ".zip":
		return len(head) >= 4 && head[0] == 0x50 && head[1] == 0x4B && (head[2] == 0x03 || head[2] == 0x05) && head[3] == 0x04
	case ".txt":
		return true
	}
	return true
}

// ContentTypeByExt возвращает MIME-тип по расширению ("" — неизвестно).
func ContentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".zip":
		return "application/zip"
	case ".txt":
		return "text/plain"
	}
	return ""
}

// SafeFilename оставляет имя файла безопасным для Content-Disposition (без управляющих символов и кавычек).
// Поддерживается UTF-8, чтобы сохранять кириллицу и другие языки.
func SafeFilename(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// ASCIIFallbackFilename возвращает имя только из ASCII для legacy filename= в Content-Disposition.
// Пробелы и не-ASCII заменяются на подчёркивание, чтобы не появлялось "+" в предложенном имени.
func ASCIIFallbackFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("upload cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}
}
