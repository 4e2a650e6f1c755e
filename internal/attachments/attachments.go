// Package attachments stores files uploaded against bugs.
package attachments

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/bugsage/internal/apperr"
)

// DefaultMaxSize is the largest accepted upload.
const DefaultMaxSize int64 = 5 << 20

// DefaultExtensions are the accepted file extensions, without dots.
var DefaultExtensions = []string{"jpg", "jpeg", "png", "gif", "pdf", "doc", "docx", "txt"}

// Policy limits what may be attached.
type Policy struct {
	MaxSize           int64
	AllowedExtensions []string
}

// Storage writes attachments under a root directory, one subdirectory per
// bug.
type Storage struct {
	root   string
	policy Policy
}

// NewStorage returns a Storage rooted at dir. Zero policy fields fall back
// to the defaults.
func NewStorage(dir string, p Policy) *Storage {
	if p.MaxSize <= 0 {
		p.MaxSize = DefaultMaxSize
	}
	if len(p.AllowedExtensions) == 0 {
		p.AllowedExtensions = DefaultExtensions
	}
	return &Storage{root: dir, policy: p}
}

// Policy returns the effective policy.
func (s *Storage) Policy() Policy { return s.policy }

// CheckName rejects file names whose extension is not allowed.
func (s *Storage) CheckName(name string) error {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return apperr.Validation("file name is required")
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(base)), ".")
	for _, allowed := range s.policy.AllowedExtensions {
		if ext == strings.ToLower(strings.TrimPrefix(allowed, ".")) {
			return nil
		}
	}
	return apperr.Validation("file type %q not allowed (allowed: %s)", ext, strings.Join(s.policy.AllowedExtensions, ", "))
}

// Save copies r into the bug's directory and returns the stored path. Files
// larger than the policy allows are rejected and removed.
func (s *Storage) Save(bugID, name string, r io.Reader) (string, error) {
	if err := s.CheckName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, bugID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}

	path := filepath.Join(dir, ulid.Make().String()+"-"+filepath.Base(strings.TrimSpace(name)))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create attachment: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, s.policy.MaxSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write attachment: %w", err)
	}
	if n > s.policy.MaxSize {
		_ = os.Remove(path)
		return "", apperr.Validation("file exceeds %d bytes", s.policy.MaxSize)
	}
	return path, nil
}
