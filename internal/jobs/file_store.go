package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/regional-stats-etl/pkg/file"
	"github.com/MimeLyc/regional-stats-etl/pkg/log"
)

// FileStore keeps one source's job cache in a single JSON document.
//
// The document is re-read on every operation so edits made by an operator
// between runs are picked up. There is no cross-process locking: two processes
// writing the same file lose updates (last write wins). Use the SQLite backend
// when several processes share a cache.
type FileStore struct {
	path        string
	source      string
	description string
	now         func() time.Time

	mu sync.Mutex
}

type FileStoreOption func(*FileStore)

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) FileStoreOption {
	return func(s *FileStore) {
		s.now = now
	}
}

func NewFileStore(path, source, description string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		path:        path,
		source:      source,
		description: description,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, key Key) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	entry, ok := doc.Jobs[key.String()]
	if !ok || entry.Status == StatusLoaded || entry.JobID == "" {
		return "", false, nil
	}
	return entry.JobID, true, nil
}

func (s *FileStore) Save(_ context.Context, key Key, jobID string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	doc.Jobs[key.String()] = Entry{
		JobID:     jobID,
		TableID:   key.TableID,
		Period:    key.Period,
		CreatedAt: NewTimestamp(s.now()),
		Status:    StatusCreated,
	}
	return s.write(doc)
}

func (s *FileStore) UpdateStatus(_ context.Context, key Key, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	entry, ok := doc.Jobs[key.String()]
	if !ok {
		return nil
	}
	if !entry.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, key, entry.Status, status)
	}
	ts := NewTimestamp(s.now())
	entry.Status = status
	entry.StatusUpdatedAt = &ts
	doc.Jobs[key.String()] = entry
	return s.write(doc)
}

func (s *FileStore) Clear(_ context.Context, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if _, ok := doc.Jobs[key.String()]; !ok {
		return false, nil
	}
	delete(doc.Jobs, key.String())
	return true, s.write(doc)
}

func (s *FileStore) AddExisting(_ context.Context, key Key, jobID string, status Status) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("job id is required")
	}
	if status == "" {
		status = StatusReady
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	doc.Jobs[key.String()] = Entry{
		JobID:     jobID,
		TableID:   key.TableID,
		Period:    key.Period,
		CreatedAt: NewTimestamp(s.now()),
		Status:    status,
		Note:      ManualNote,
	}
	return s.write(doc)
}

func (s *FileStore) Put(_ context.Context, entry Entry) error {
	if err := entry.Key().Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	doc.Jobs[entry.Key().String()] = entry
	return s.write(doc)
}

func (s *FileStore) List(_ context.Context) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	ret := make(map[string]Entry, len(doc.Jobs))
	for k, v := range doc.Jobs {
		ret[k] = v
	}
	return ret, nil
}

// load never fails: a missing or unreadable file yields an empty document.
func (s *FileStore) load() *Document {
	doc, err := ReadDocument(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("Job cache %s unreadable, starting empty: %v", s.path, err)
		}
		doc = &Document{}
	}
	if doc.Jobs == nil {
		doc.Jobs = make(map[string]Entry)
	}
	if doc.Source == "" {
		doc.Source = s.source
	}
	if doc.Description == "" {
		doc.Description = s.description
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = NewTimestamp(s.now())
	}
	return doc
}

func (s *FileStore) write(doc *Document) error {
	doc.UpdatedAt = NewTimestamp(s.now())
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job cache: %w", err)
	}
	content = append(content, '\n')
	if err := file.WriteAtomic(s.path, content, 0o644); err != nil {
		return fmt.Errorf("write job cache %s: %w", s.path, err)
	}
	return nil
}

// ReadDocument strictly parses a cache file.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid job cache file: %w", err)
	}
	return &doc, nil
}

// ImportFile copies every entry of a cache file into dst and returns how many
// entries were written. Entries keep their status, timestamps and notes.
func ImportFile(ctx context.Context, path string, dst Store) (int, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for storageKey, entry := range doc.Jobs {
		if entry.TableID == "" || entry.Period == "" {
			log.Warn("Skipping cache entry %s without table id or period", storageKey)
			continue
		}
		if err := dst.Put(ctx, entry); err != nil {
			return n, fmt.Errorf("import %s: %w", storageKey, err)
		}
		n++
	}
	return n, nil
}
