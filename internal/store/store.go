// Package store persists declared stream and collection confs.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"firestige.xyz/tsnstream/internal/config"
	"firestige.xyz/tsnstream/internal/core"
)

// Store is the persistence interface for declared entries.
// All implementations must be safe for concurrent use.
type Store interface {
	SaveStream(e config.StreamEntry) error
	SaveCollection(e config.CollectionEntry) error
	// DeleteStream and DeleteCollection return nil when nothing is stored.
	DeleteStream(id uint32) error
	DeleteCollection(id uint32) error
	// List returns all entries sorted by id. Unreadable files are logged
	// and skipped.
	List() ([]config.StreamEntry, []config.CollectionEntry, error)
}

// kind prefixes the file name of an entry.
type kind string

const (
	kindStream     kind = "stream"
	kindCollection kind = "collection"
)

// record is the on-disk wire format.
type record struct {
	Version    string                  `json:"version"`
	SavedAt    time.Time               `json:"saved_at"`
	Stream     *config.StreamEntry     `json:"stream,omitempty"`
	Collection *config.CollectionEntry `json:"collection,omitempty"`
}

const persistenceVersion = "v1"

// FileStore keeps one JSON file per entry under a directory.
// Writes use temp-file + atomic rename.
type FileStore struct {
	dir string
	log *slog.Logger
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("store: create directory %q: %w", dir, err)
	}
	return &FileStore{dir: dir, log: slog.Default().With("component", "store")}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) SaveStream(e config.StreamEntry) error {
	return s.save(kindStream, e.ID, record{Stream: &e})
}

func (s *FileStore) SaveCollection(e config.CollectionEntry) error {
	return s.save(kindCollection, e.ID, record{Collection: &e})
}

func (s *FileStore) DeleteStream(id uint32) error { return s.delete(kindStream, id) }

func (s *FileStore) DeleteCollection(id uint32) error { return s.delete(kindCollection, id) }

// save atomically writes rec using a unique temp file + rename, so
// concurrent saves of the same entry never share a temp path.
func (s *FileStore) save(k kind, id uint32, rec record) error {
	rec.Version = persistenceVersion
	rec.SavedAt = time.Now().UTC()

	name := fileName(k, id)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", name, err)
	}

	tmpFile, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file for %s: %w", name, err)
	}
	tmpName := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write temp file for %s: %w", name, err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: close temp file for %s: %w", name, err)
	}

	final := filepath.Join(s.dir, name)
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: rename temp to %q: %w", final, err)
	}

	s.log.Debug("entry persisted", "kind", k, "id", id)
	return nil
}

func (s *FileStore) delete(k kind, id uint32) error {
	err := os.Remove(filepath.Join(s.dir, fileName(k, id)))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: delete %s %d: %w", k, id, err)
	}
	s.log.Debug("entry removed", "kind", k, "id", id)
	return nil
}

// List reads all {kind}-{id}.json files in the directory.
// Unrecognised file names (including .tmp files) are ignored.
func (s *FileStore) List() ([]config.StreamEntry, []config.CollectionEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("store: read directory %q: %w", s.dir, err)
	}

	var (
		streams     []config.StreamEntry
		collections []config.CollectionEntry
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		k, id, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		rec, err := s.load(e.Name(), k, id)
		if err != nil {
			s.log.Warn("skipping unreadable file",
				"file", filepath.Join(s.dir, e.Name()),
				"error", err,
			)
			continue
		}
		if k == kindStream {
			streams = append(streams, *rec.Stream)
		} else {
			collections = append(collections, *rec.Collection)
		}
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].ID < streams[j].ID })
	sort.Slice(collections, func(i, j int) bool { return collections[i].ID < collections[j].ID })
	return streams, collections, nil
}

// load reads one file and checks that its body matches its name.
func (s *FileStore) load(name string, k kind, id uint32) (record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return record{}, fmt.Errorf("store: read %s: %w", name, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("%w: %s: %v", core.ErrStoreCorrupt, name, err)
	}
	if rec.Version != persistenceVersion {
		return record{}, fmt.Errorf("%w: %s: unsupported version %q", core.ErrStoreCorrupt, name, rec.Version)
	}
	switch {
	case k == kindStream && rec.Stream != nil && rec.Stream.ID == id:
	case k == kindCollection && rec.Collection != nil && rec.Collection.ID == id:
	default:
		return record{}, fmt.Errorf("%w: %s: body does not match file name", core.ErrStoreCorrupt, name)
	}
	return rec, nil
}

func fileName(k kind, id uint32) string {
	return fmt.Sprintf("%s-%d.json", k, id)
}

func parseFileName(name string) (kind, uint32, bool) {
	base, ok := strings.CutSuffix(name, ".json")
	if !ok || strings.HasPrefix(name, ".") {
		return "", 0, false
	}
	k, num, ok := strings.Cut(base, "-")
	if !ok || (kind(k) != kindStream && kind(k) != kindCollection) {
		return "", 0, false
	}
	id, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return "", 0, false
	}
	return kind(k), uint32(id), true
}

// Merge overlays stored entries on declared ones. A stored entry replaces
// a declared entry with the same id.
func Merge(cfgStreams []config.StreamEntry, cfgCollections []config.CollectionEntry,
	stStreams []config.StreamEntry, stCollections []config.CollectionEntry,
) ([]config.StreamEntry, []config.CollectionEntry) {
	return mergeByID(cfgStreams, stStreams, func(e config.StreamEntry) uint32 { return e.ID }),
		mergeByID(cfgCollections, stCollections, func(e config.CollectionEntry) uint32 { return e.ID })
}

func mergeByID[T any](base, over []T, id func(T) uint32) []T {
	byID := make(map[uint32]T, len(base)+len(over))
	for _, e := range base {
		byID[id(e)] = e
	}
	for _, e := range over {
		byID[id(e)] = e
	}
	out := make([]T, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}

// noopStore is a Store that does nothing, used when persistence is disabled.
type noopStore struct{}

// Noop returns a Store that keeps nothing.
func Noop() Store { return noopStore{} }

func (noopStore) SaveStream(config.StreamEntry) error         { return nil }
func (noopStore) SaveCollection(config.CollectionEntry) error { return nil }
func (noopStore) DeleteStream(uint32) error                   { return nil }
func (noopStore) DeleteCollection(uint32) error               { return nil }
func (noopStore) List() ([]config.StreamEntry, []config.CollectionEntry, error) {
	return nil, nil, nil
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = noopStore{}
)
