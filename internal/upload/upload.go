package upload

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const DefaultImage = "default.jpg"

var (
	ErrFileTooLarge = errors.New("file too large")
	ErrBadExtension = errors.New("file extension not allowed")
)

// Store saves product images under a single directory. Stored names are
// sanitized and prefixed with a random id so uploads never overwrite each
// other.
type Store struct {
	Dir         string
	MaxBytes    int64
	AllowedExts []string
}

func (s *Store) Allowed(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return false
	}
	for _, a := range s.AllowedExts {
		if ext == strings.ToLower(a) {
			return true
		}
	}
	return false
}

func (s *Store) Save(fh *multipart.FileHeader) (string, error) {
	if s.MaxBytes > 0 && fh.Size > s.MaxBytes {
		return "", fmt.Errorf("%d bytes: %w", fh.Size, ErrFileTooLarge)
	}
	if !s.Allowed(fh.Filename) {
		return "", fmt.Errorf("%q: %w", fh.Filename, ErrBadExtension)
	}

	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}

	name := uuid.NewString() + "_" + sanitize(fh.Filename)
	dst, err := os.Create(filepath.Join(s.Dir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return name, nil
}

// Remove deletes a stored image, ignoring failures. External URLs and the
// default placeholder are never touched.
func (s *Store) Remove(name string) {
	if name == "" || name == DefaultImage || IsImageURL(name) {
		return
	}
	_ = os.Remove(filepath.Join(s.Dir, filepath.Base(name)))
}

func IsImageURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func sanitize(filename string) string {
	base := filepath.Base(filename)
	base = strings.ReplaceAll(base, " ", "_")
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
