// Package media manages the content root: uploaded sources, worker results
// and fusion outputs.
package media

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cuongbtq/hair3d/internal/domain"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	uploadsDir = "uploads"
	resultsDir = "results"
	outputsDir = "outputs"
)

// image types accepted by content sniffing
var imageMIMEs = []string{"image/png", "image/jpeg", "image/webp"}

// Store is a directory tree rooted at a configured content root
type Store struct {
	root string
}

// NewStore creates the directory layout under root
func NewStore(root string) (*Store, error) {
	s := &Store{root: root}
	for _, dir := range []string{s.UploadsDir(), s.ResultsDir(), s.OutputsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create content directory %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Store) Root() string       { return s.root }
func (s *Store) UploadsDir() string { return filepath.Join(s.root, uploadsDir) }
func (s *Store) ResultsDir() string { return filepath.Join(s.root, resultsDir) }
func (s *Store) OutputsDir() string { return filepath.Join(s.root, outputsDir) }

// Extension returns the lower-cased extension after the last dot, without the dot
func Extension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

// AllowedExtension reports whether filename ends in one of allowed
func AllowedExtension(filename string, allowed []string) bool {
	ext := Extension(filename)
	return ext != "" && slices.Contains(allowed, ext)
}

// DetectImage sniffs the leading bytes of r and returns its MIME type.
// Anything other than png, jpeg or webp is rejected.
func DetectImage(r io.Reader) (string, error) {
	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to detect content type: %w", err)
	}
	for _, m := range imageMIMEs {
		if mtype.Is(m) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: content type %s is not an accepted image", domain.ErrInvalidUpload, mtype.String())
}

// SaveUpload persists an uploaded file under a collision resistant name
// and returns its path. The original filename only contributes its extension.
func (s *Store) SaveUpload(fh *multipart.FileHeader, verifyContent bool) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	var reader io.Reader = src
	if verifyContent {
		head := make([]byte, 3072)
		n, err := io.ReadFull(src, head)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return "", fmt.Errorf("failed to read upload: %w", err)
		}
		head = head[:n]
		if _, err := DetectImage(bytes.NewReader(head)); err != nil {
			return "", err
		}
		reader = io.MultiReader(bytes.NewReader(head), src)
	}

	name := fmt.Sprintf("%s.%s", strings.ReplaceAll(uuid.NewString(), "-", ""), Extension(fh.Filename))
	path := filepath.Join(s.UploadsDir(), name)

	if err := writeFile(path, reader); err != nil {
		return "", err
	}
	return path, nil
}

// ResultPath returns the destination for a job's result: results/<job_id>_result<src ext>
func (s *Store) ResultPath(jobID, srcPath string) string {
	return filepath.Join(s.ResultsDir(), jobID+"_result"+filepath.Ext(srcPath))
}

// SaveOutput writes data to outputs/<prefix>_<uuid><ext> and returns the path
func (s *Store) SaveOutput(prefix string, data []byte, ext string) (string, error) {
	name := fmt.Sprintf("%s_%s%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", ""), ext)
	path := filepath.Join(s.OutputsDir(), name)
	if err := writeFile(path, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return path, nil
}

// Remove deletes a stored file, ignoring files that are already gone
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
