package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/handiism/mediadl/internal/model"
)

var (
	// ErrPersist wraps every failure to write the ledger.
	ErrPersist = errors.New("ledger not persisted")

	// ErrNotFound is returned when no entry exists for a directory.
	ErrNotFound = errors.New("no pending download for directory")

	// ErrInvalidEntry is returned for entries without an id or directory.
	ErrInvalidEntry = errors.New("invalid ledger entry")
)

// Ledger is the in-memory list of pending downloads backed by a Store.
// It is safe for concurrent use and is the only writer of its Store.
type Ledger struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	entries []*model.Download
}

// Open loads the ledger from store. A missing or corrupt ledger degrades
// to an empty one; entries that fail to decode are dropped. Both cases are
// logged and never returned as errors.
func Open(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{store: store, logger: logger}

	entries, err := store.Load()
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug("no pending downloads ledger yet")
	case entries != nil:
		logger.Warn("dropped unreadable ledger entries", "error", err)
	default:
		logger.Warn("pending downloads ledger unreadable, starting empty", "error", err)
	}
	l.entries = entries
	return l
}

// Entries returns copies of all entries in order.
func (l *Ledger) Entries() []*model.Download {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*model.Download, len(l.entries))
	for i, d := range l.entries {
		out[i] = d.Clone()
	}
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Get returns a copy of the entry for dir.
func (l *Ledger) Get(dir string) (*model.Download, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.index(dir); i >= 0 {
		return l.entries[i].Clone(), true
	}
	return nil, false
}

// Put appends d, or replaces the entry with the same directory, and saves.
func (l *Ledger) Put(d *model.Download) error {
	if err := validate(d); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.copyEntries()
	if i := l.index(d.Directory); i >= 0 {
		next[i] = d.Clone()
	} else {
		next = append(next, d.Clone())
	}
	return l.commit(next)
}

// Remove deletes the entry for dir and saves. Removing a missing entry is a no-op.
func (l *Ledger) Remove(dir string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.index(dir)
	if i < 0 {
		return nil
	}
	next := l.copyEntries()
	next = append(next[:i], next[i+1:]...)
	return l.commit(next)
}

// Update applies fn to a copy of the entry for dir and saves the result.
func (l *Ledger) Update(dir string, fn func(*model.Download)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.index(dir)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	next := l.copyEntries()
	d := next[i].Clone()
	fn(d)
	d.Directory = next[i].Directory
	if err := validate(d); err != nil {
		return err
	}
	next[i] = d
	return l.commit(next)
}

// Close releases the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func validate(d *model.Download) error {
	switch {
	case d.Directory == "":
		return fmt.Errorf("%w: empty directory", ErrInvalidEntry)
	case d.ID == "":
		return fmt.Errorf("%w: %s: empty id", ErrInvalidEntry, d.Directory)
	}
	return nil
}

// commit saves next and only then makes it the current list.
func (l *Ledger) commit(next []*model.Download) error {
	if err := l.store.Save(next); err != nil {
		l.logger.Error("failed to save pending downloads ledger", "error", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	l.entries = next
	return nil
}

func (l *Ledger) copyEntries() []*model.Download {
	return append([]*model.Download(nil), l.entries...)
}

func (l *Ledger) index(dir string) int {
	for i, d := range l.entries {
		if d.Directory == dir {
			return i
		}
	}
	return -1
}
