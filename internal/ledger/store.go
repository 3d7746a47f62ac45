package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/handiism/mediadl/internal/model"
)

// Ledger file names inside a downloads root.
const (
	FileName     = "PendingDownloads.json"
	BoltFileName = "PendingDownloads.db"
)

// Backend selects a Store implementation.
type Backend string

const (
	BackendJSON Backend = "json"
	BackendBolt Backend = "bolt"
)

// ParseBackend maps a settings value to a Backend; empty means json.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(s)); b {
	case BackendJSON, "":
		return BackendJSON, nil
	case BackendBolt:
		return b, nil
	default:
		return "", fmt.Errorf("unknown ledger backend %q", s)
	}
}

// Store persists the full list of ledger entries.
type Store interface {
	// Load returns every stored entry. Entries that could not be decoded are
	// skipped and reported through the returned error, which wraps them all.
	Load() ([]*model.Download, error)

	// Save replaces the stored entries with entries.
	Save(entries []*model.Download) error

	Close() error
}

// NewStore opens the store for backend inside the downloads root.
func NewStore(backend Backend, root string) (Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	switch backend {
	case BackendJSON, "":
		return NewJSONStore(filepath.Join(root, FileName)), nil
	case BackendBolt:
		return OpenBoltStore(filepath.Join(root, BoltFileName))
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}

// JSONStore keeps the ledger in a single JSON file.
type JSONStore struct {
	path string
}

// NewJSONStore returns a store writing to path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the ledger file path.
func (s *JSONStore) Path() string { return s.path }

func (s *JSONStore) Load() ([]*model.Download, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	entries, bad, err := decodeFile(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(s.path), err)
	}
	return entries, errors.Join(bad...)
}

// Save writes to a temporary file and renames it over the ledger so a
// crash never leaves a truncated file behind.
func (s *JSONStore) Save(entries []*model.Download) error {
	data, err := encodeFile(entries)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *JSONStore) Close() error { return nil }

var (
	entriesBucket = []byte("pending_downloads")
	metaBucket    = []byte("meta")
	orderKey      = []byte("order")
)

// BoltStore keeps the ledger in a bbolt database, one key per download
// directory. Entry order is kept in a separate meta bucket.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() ([]*model.Download, error) {
	var entries []*model.Download
	var bad []error
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		if b == nil {
			return nil
		}

		var order []string
		if meta := tx.Bucket(metaBucket); meta != nil {
			if raw := meta.Get(orderKey); raw != nil {
				if err := json.Unmarshal(raw, &order); err != nil {
					bad = append(bad, fmt.Errorf("entry order: %w", err))
				}
			}
		}

		seen := make(map[string]bool, len(order))
		add := func(key, raw []byte) {
			d, err := DecodeDownload(raw)
			if err != nil {
				bad = append(bad, fmt.Errorf("entry %q: %w", key, err))
				return
			}
			entries = append(entries, d)
		}
		for _, dir := range order {
			if raw := b.Get([]byte(dir)); raw != nil && !seen[dir] {
				seen[dir] = true
				add([]byte(dir), raw)
			}
		}
		return b.ForEach(func(k, v []byte) error {
			if !seen[string(k)] {
				add(k, v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, errors.Join(bad...)
}

// Save replaces both buckets inside one transaction.
func (s *BoltStore) Save(entries []*model.Download) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(entriesBucket)
		if err != nil {
			return err
		}
		order := make([]string, 0, len(entries))
		for _, d := range entries {
			raw, err := EncodeDownload(d)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(d.Directory), raw); err != nil {
				return err
			}
			order = append(order, d.Directory)
		}

		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(order)
		if err != nil {
			return err
		}
		return meta.Put(orderKey, raw)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
