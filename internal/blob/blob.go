// Package blob stores voice clips and hands back the URL they are served under.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrTooLarge is returned when a clip exceeds the store's size limit.
	ErrTooLarge = errors.New("blob: clip too large")
	ErrEmpty    = errors.New("blob: empty clip")
)

// Clips are served back from the same origin, so only audio extensions are
// kept.
var audioExtensions = map[string]bool{
	"webm": true, "ogg": true, "oga": true, "opus": true,
	"mp3": true, "m4a": true, "mp4": true, "wav": true, "aac": true,
}

type Store interface {
	// Put stores the clip and returns its retrievable URL.
	Put(ctx context.Context, r io.Reader, ext string) (string, error)
	// Delete removes a clip by the URL Put returned. A missing clip is not
	// an error.
	Delete(ctx context.Context, url string) error
}

// DiskStore writes clips under Dir and serves them under URLPrefix.
type DiskStore struct {
	Dir       string
	URLPrefix string
	MaxBytes  int64
}

func NewDiskStore(dir, urlPrefix string, maxBytes int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{Dir: dir, URLPrefix: strings.TrimSuffix(urlPrefix, "/"), MaxBytes: maxBytes}, nil
}

func (s *DiskStore) Put(ctx context.Context, r io.Reader, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if !audioExtensions[ext] {
		ext = "webm"
	}
	name := uuid.NewString() + "." + ext

	tmp, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	src := r
	if s.MaxBytes > 0 {
		src = io.LimitReader(r, s.MaxBytes+1)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write clip: %w", err)
	}
	if s.MaxBytes > 0 && n > s.MaxBytes {
		return "", ErrTooLarge
	}
	if n == 0 {
		return "", ErrEmpty
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, name)); err != nil {
		return "", err
	}
	return path.Join(s.URLPrefix, name), nil
}

func (s *DiskStore) Delete(ctx context.Context, url string) error {
	name, ok := strings.CutPrefix(url, s.URLPrefix+"/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("blob: %q is not a stored clip", url)
	}
	if err := os.Remove(filepath.Join(s.Dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
