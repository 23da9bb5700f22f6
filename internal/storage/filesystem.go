package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	fallbackFilename = "upload"
	artifactPrefix   = "meme_"
	artifactExt      = ".jpg"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileStore persists uploads and rendered memes onto the local filesystem,
// one directory per job.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Write persists the provided bytes at the given relative key and returns the
// canonicalized storage key. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	return s.WriteFrom(ctx, key, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteFrom streams content produced by fill into the file at key. The file
// only appears under its final name once fill has succeeded.
func (s *FileStore) WriteFrom(ctx context.Context, key string, fill func(io.Writer) error) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := s.Path(cleanKey)
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("storage: create file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := fill(tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("storage: chmod file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("storage: rename file: %w", err)
	}
	return cleanKey, nil
}

// Path resolves a key returned by Write to an absolute location on disk.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

// RemoveJobDir deletes everything stored for jobID. A missing directory is
// not an error.
func (s *FileStore) RemoveJobDir(jobID string) error {
	cleanKey, err := sanitizeKey(jobID)
	if err != nil {
		return err
	}
	if strings.Contains(cleanKey, "/") {
		return fmt.Errorf("storage: invalid job id %q", jobID)
	}
	if err := os.RemoveAll(s.Path(cleanKey)); err != nil {
		return fmt.Errorf("storage: remove job dir: %w", err)
	}
	return nil
}

// UploadKey is where the original upload of a job is kept.
func UploadKey(jobID, filename string) string {
	return jobID + "/" + SanitizeFilename(filename)
}

// ArtifactKey is where the rendered meme of a job is kept.
func ArtifactKey(jobID, filename string) string {
	name := SanitizeFilename(filename)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		stem = fallbackFilename
	}
	return jobID + "/" + artifactPrefix + stem + artifactExt
}

// SanitizeFilename reduces a client supplied filename to a safe ASCII name
// with no directory components.
func SanitizeFilename(name string) string {
	decomposed := norm.NFKD.String(name)
	ascii := make([]rune, 0, len(decomposed))
	for _, r := range decomposed {
		if r < 0x80 {
			ascii = append(ascii, r)
		}
	}
	cleaned := strings.NewReplacer("/", " ", "\\", " ").Replace(string(ascii))
	cleaned = strings.Join(strings.Fields(cleaned), "_")
	cleaned = unsafeFilenameChars.ReplaceAllString(cleaned, "")
	cleaned = strings.Trim(cleaned, "._")
	if cleaned == "" {
		return fallbackFilename
	}
	return cleaned
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
