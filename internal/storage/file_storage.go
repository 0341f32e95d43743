package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

// sniffLen is how many leading bytes filetype needs to recognise every matcher.
const sniffLen = 262

var (
	ErrEmptyFile       = errors.New("storage: file is empty")
	ErrFileTooLarge    = errors.New("storage: file exceeds size limit")
	ErrUnsupportedType = errors.New("storage: unsupported file type")
)

// allowedMimeTypes lists what tickets and refunds may carry as evidence.
var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// Upload describes a stored file.
type Upload struct {
	Key       string
	FileName  string
	MimeType  string
	SizeBytes int64
}

// FileStorage keeps uploaded attachments on the local filesystem.
type FileStorage struct {
	root     string
	maxBytes int64
	rename   func(oldpath, newpath string) error
}

// NewFileStorage creates the root directory when missing.
func NewFileStorage(root string, maxBytes int64) (*FileStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", root, err)
	}
	return &FileStorage{root: root, maxBytes: maxBytes, rename: os.Rename}, nil
}

// Save sniffs the content type, enforces the size limit and writes the file
// under a generated key scoped to the owner.
func (s *FileStorage) Save(ctx context.Context, ownerID, originalName string, r io.Reader) (*Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("storage: read upload: %w", err)
	}
	if len(head) == 0 {
		return nil, ErrEmptyFile
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown || !allowedMimeTypes[kind.MIME.Value] {
		return nil, ErrUnsupportedType
	}

	ownerDir := safeSegment(ownerID)
	fileName := uuid.NewString() + "." + kind.Extension
	dir := filepath.Join(s.root, ownerDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create owner dir: %w", err)
	}

	target := filepath.Join(dir, fileName)
	tmp := target + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("storage: create file: %w", err)
	}
	defer f.Close()

	written, err := io.Copy(f, &io.LimitedReader{R: br, N: s.maxBytes + 1})
	if err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("storage: write file: %w", err)
	}
	if written > s.maxBytes {
		_ = os.Remove(tmp)
		return nil, ErrFileTooLarge
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("storage: close file: %w", err)
	}
	if err := s.rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("storage: rename file: %w", err)
	}

	return &Upload{
		Key:       path.Join(ownerDir, fileName),
		FileName:  sanitizeFilename(originalName),
		MimeType:  kind.MIME.Value,
		SizeBytes: written,
	}, nil
}

// Exists reports whether key names a stored file.
func (s *FileStorage) Exists(key string) bool {
	if key == "" || strings.Contains(key, "..") {
		return false
	}
	info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(key)))
	return err == nil && info.Mode().IsRegular()
}

// OwnedBy reports whether key lives in ownerID's upload directory.
func (s *FileStorage) OwnedBy(key, ownerID string) bool {
	return strings.HasPrefix(key, safeSegment(ownerID)+"/")
}

func safeSegment(id string) string {
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
	if id == "" {
		return "anonymous"
	}
	return id
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "")
	if name == "" || name == "." || name == "/" {
		name = "attachment"
	}
	return name
}
