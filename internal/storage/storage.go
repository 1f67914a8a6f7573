package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"marketplace/internal/domain"

	"github.com/google/uuid"
)

// allowedExtensions are the photo formats accepted for upload
var allowedExtensions = map[string]bool{
	".png":  true,
	".jpeg": true,
	".jpg":  true,
	".gif":  true,
}

// ErrTooLarge is returned when an upload exceeds the configured limit
var ErrTooLarge = errors.New("file exceeds the upload size limit")

// ValidateExtension fails with domain.ErrUnsupportedMediaType unless name ends in an allowed
// image extension. Case is ignored.
func ValidateExtension(name string) error {
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedMediaType, ext)
	}
	return nil
}

// LocalStorage writes uploads under a directory served at a public base URL
type LocalStorage struct {
	dir      string
	baseURL  string
	maxBytes int64
}

// NewLocalStorage creates the upload directory if needed
func NewLocalStorage(dir, baseURL string, maxBytes int64) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

// Dir returns the directory holding stored files
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Upload stores content under a generated name that keeps the original extension and
// returns its public URL. Nothing is written when the extension is not allowed.
func (s *LocalStorage) Upload(ctx context.Context, name string, content io.Reader) (string, error) {
	if err := ValidateExtension(name); err != nil {
		return "", err
	}

	stored := uuid.NewString() + strings.ToLower(filepath.Ext(name))
	path := filepath.Join(s.dir, stored)

	f, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	reader := content
	if s.maxBytes > 0 {
		reader = io.LimitReader(content, s.maxBytes+1)
	}

	written, err := io.Copy(f, &ctxReader{ctx: ctx, r: reader})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		return "", ErrTooLarge
	}

	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	return s.baseURL + "/" + stored, nil
}

// Remove deletes the file behind a URL returned by Upload. Removing a file that is
// already gone is not an error.
func (s *LocalStorage) Remove(ctx context.Context, url string) error {
	name, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("not a stored file: %q", url)
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove upload: %w", err)
	}
	return nil
}

// ctxReader stops a copy once the context is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
