package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// File keeps all entries in one JSON document, readable by the owner only.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a cache stored at path. The file is created on the first Put.
func NewFile(path string) *File {
	return &File{path: path}
}

// Name returns the backend and the file path.
func (f *File) Name() string { return BackendFile + ":" + f.path }

// Get reads the file and returns the entry stored under key.
func (f *File) Get(_ context.Context, key string) (Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.read()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := entries[key]
	return e, ok, nil
}

// Put rewrites the file with entry stored under key. An unreadable file is replaced.
func (f *File) Put(_ context.Context, key string, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.read()
	if err != nil {
		// A corrupt cache is replaced rather than blocking startup.
		log.Warn().Err(err).Str("path", f.path).Msg("Discarding unreadable KSM cache")
		entries = map[string]Entry{}
	}
	entries[key] = entry
	return f.write(entries)
}

func (f *File) read() (map[string]Entry, error) {
	// #nosec G304 -- the cache path is operator configuration
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read KSM cache %q", f.path)
	}
	entries := map[string]Entry{}
	if err = json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "KSM cache %q is corrupt", f.path)
	}
	return entries, nil
}

func (f *File) write(entries map[string]Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "failed to encode KSM cache")
	}
	dir := filepath.Dir(f.path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "failed to create cache directory %q", dir)
	}
	tmp, err := os.CreateTemp(dir, ".ksm-cache-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary cache file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if err = tmp.Chmod(0o600); err == nil {
		_, err = tmp.Write(data)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Wrap(err, "failed to write KSM cache")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), f.path), "failed to replace KSM cache %q", f.path)
}
