// internal/object/store.go
package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store is a content-addressed blob store. Object ids are the
// hex-encoded SHA-256 of the raw bytes; on disk an object lives at
// <root>/<id[:2]>/<id[2:]>. Writes are idempotent: storing bytes that
// already exist is a no-op, never an error.
type Store struct {
	root  string
	cache *lru.Cache[string, []byte]
}

// Options configures a Store.
type Options struct {
	Root      string
	CacheSize int // number of blobs kept in the read cache
}

// New opens (creating if necessary) an object store rooted at opts.Root.
func New(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("object store root is required")
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating object store directory: %w", err)
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 256
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating object cache: %w", err)
	}

	return &Store{root: opts.Root, cache: cache}, nil
}

// HashBytes returns the object id for a byte slice.
func HashBytes(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// HashFile returns the object id for a file's content, streaming so
// large audio blobs are not held in memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.root, id[:2], id[2:])
}

// Write stores content and returns its id plus whether a new object
// was created (false on an idempotent repeat).
func (s *Store) Write(content []byte) (string, bool, error) {
	if content == nil {
		content = []byte{}
	}
	id := HashBytes(content)

	path := s.path(id)
	if _, err := os.Stat(path); err == nil {
		s.cache.Add(id, content)
		return id, false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", false, fmt.Errorf("creating object directory: %w", err)
	}
	if err := writeAtomic(path, content); err != nil {
		return "", false, fmt.Errorf("writing object %s: %w", id, err)
	}

	s.cache.Add(id, content)
	return id, true, nil
}

// WriteFromPath stores the content of an existing file under the given
// id. The caller supplies the id (usually from HashFile) so the file is
// read only once across hashing and storing. The on-disk layout is
// identical to Write's for the same id.
func (s *Store) WriteFromPath(src, id string) (bool, error) {
	dst := s.path(id)
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return false, fmt.Errorf("creating object directory: %w", err)
	}
	if err := copyAtomic(src, dst); err != nil {
		return false, fmt.Errorf("storing %s as object %s: %w", src, id, err)
	}
	return true, nil
}

// Read returns the stored bytes for id, or nil when the object is
// absent. Absence is not an error here so callers can raise their own
// error naming the path that needed the object.
func (s *Store) Read(id string) ([]byte, error) {
	if !validID(id) {
		return nil, nil
	}
	if content, ok := s.cache.Get(id); ok {
		return content, nil
	}

	content, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading object %s: %w", id, err)
	}

	s.cache.Add(id, content)
	return content, nil
}

// Has reports whether an object exists without reading its content.
func (s *Store) Has(id string) bool {
	if !validID(id) {
		return false
	}
	if s.cache.Contains(id) {
		return true
	}
	_, err := os.Stat(s.path(id))
	return err == nil
}

// Restore copies the object to dest, creating parent directories as
// needed. Returns false when the object is absent, mirroring Read. The
// copy goes through a temp file and rename so a failure never leaves a
// partially written dest visible.
func (s *Store) Restore(id string, dest string) (bool, error) {
	if !s.Has(id) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return false, fmt.Errorf("creating directory for %s: %w", dest, err)
	}
	if err := copyAtomic(s.path(id), dest); err != nil {
		return false, fmt.Errorf("restoring object %s to %s: %w", id, dest, err)
	}
	return true, nil
}

func validID(id string) bool {
	if len(id) != 64 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

func writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".obj-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".obj-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dst)
}
