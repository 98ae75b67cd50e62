// Package offline keeps drafts that could not reach the fast store on local
// disk so a later session can recover them.
package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a draft id.
	ErrNotFound = errors.New("offline draft not found")
	// ErrInvalidID is returned for ids that cannot be used as a file name.
	ErrInvalidID = errors.New("invalid draft id")
)

const (
	filePrefix = "draft-"
	fileSuffix = ".json"
)

// Record is an unsent draft. Version is the fast-store version the unsent
// edits were based on.
type Record struct {
	DraftID string `json:"noteId"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Version int64  `json:"version"`
	// Timestamp is in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewRecord stamps a record with at.
func NewRecord(draftID, title, content string, version int64, at time.Time) Record {
	return Record{
		DraftID:   draftID,
		Title:     title,
		Content:   content,
		Version:   version,
		Timestamp: at.UnixMilli(),
	}
}

// Time returns the record's timestamp.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Store is a directory holding one JSON file per draft id.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create offline dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, filePrefix+id+fileSuffix), nil
}

// Put replaces the record for rec.DraftID. The write goes through a temp
// file so a crash never leaves a truncated record behind.
func (s *Store) Put(rec Record) error {
	p, err := s.path(rec.DraftID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal offline draft: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, filePrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write offline draft: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close offline draft: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit offline draft: %w", err)
	}
	return nil
}

// Get returns the record for id or ErrNotFound.
func (s *Store) Get(id string) (Record, error) {
	p, err := s.path(id)
	if err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read offline draft: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode offline draft %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes the record for id. Deleting a missing record is not an error.
func (s *Store) Delete(id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete offline draft: %w", err)
	}
	return nil
}

// List returns every stored record, newest first. Unreadable files are skipped.
func (s *Store) List() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list offline drafts: %w", err)
	}

	var out []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}
