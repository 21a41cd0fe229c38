package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{16,128}$`)

// latestFile holds the hash of the most recently used entry.
const latestFile = "LATEST"

// FileStore keeps one JSON file per entry in a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created lazily.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) path(hash string) (string, error) {
	if !hashPattern.MatchString(hash) {
		return "", errors.Newf("invalid cache key %q", hash)
	}
	return filepath.Join(s.dir, hash+".json"), nil
}

func (s *FileStore) Load(_ context.Context, hash string) (*Entry, error) {
	p, err := s.path(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "reading %s", p)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", p)
	}
	return &e, nil
}

// Save writes to a temp file and renames it into place so readers never see
// a partial entry.
func (s *FileStore) Save(_ context.Context, e *Entry) error {
	p, err := s.path(e.Hash)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.Wrapf(err, "creating cache directory %s", s.dir)
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding entry")
	}

	tmp, err := os.CreateTemp(s.dir, ".entry-*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing entry")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing entry")
	}
	return errors.Wrap(os.Rename(tmp.Name(), p), "moving entry into place")
}

func (s *FileStore) entries() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, errors.Wrap(err, "listing cache directory")
	}
	return matches, nil
}

func (s *FileStore) Clear(context.Context) (int, error) {
	files, err := s.entries()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return removed, errors.Wrapf(err, "removing %s", f)
		}
		removed++
	}
	if err := os.Remove(filepath.Join(s.dir, latestFile)); err != nil && !os.IsNotExist(err) {
		return removed, errors.Wrap(err, "removing latest marker")
	}
	return removed, nil
}

func (s *FileStore) Count(context.Context) (int, error) {
	files, err := s.entries()
	return len(files), err
}

func (s *FileStore) SaveLatest(_ context.Context, hash string) error {
	if !hashPattern.MatchString(hash) {
		return errors.Newf("invalid cache key %q", hash)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.Wrapf(err, "creating cache directory %s", s.dir)
	}
	return errors.Wrap(os.WriteFile(filepath.Join(s.dir, latestFile), []byte(hash+"\n"), 0644), "writing latest marker")
}

func (s *FileStore) LoadLatest(context.Context) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, latestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", errors.Wrap(err, "reading latest marker")
	}
	hash := strings.TrimSpace(string(data))
	if !hashPattern.MatchString(hash) {
		return "", errors.Newf("latest marker holds invalid key %q", hash)
	}
	return hash, nil
}

func (s *FileStore) Close() error { return nil }
