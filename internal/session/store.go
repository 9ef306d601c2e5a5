// Package session manages login sessions: each session owns one cookie jar,
// persisted as JSONL under the session directory, plus the QR login flow.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bilidl/internal/bili"
	"bilidl/internal/log"
)

const cookieFile = "cookies.jsonl"

var (
	// ErrSessionExists is returned when creating a session under a taken id.
	ErrSessionExists = errors.New("session id already exists")

	// ErrSessionNotFound marks a lookup for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
)

// Store maps session ids to cookie jars and handles their persistence.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*bili.Jar
	dir      string
	logger   zerolog.Logger
}

// NewStore returns a store rooted at dir (default "sessions").
func NewStore(dir string) *Store {
	if dir == "" {
		dir = "sessions"
	}
	return &Store{
		sessions: make(map[string]*bili.Jar),
		dir:      dir,
		logger:   log.WithComponent("session"),
	}
}

// Create registers a jar under id. Duplicate ids are rejected.
func (s *Store) Create(id string, jar *bili.Jar) error {
	if jar == nil {
		jar = bili.NewJar()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[id]; exists {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	s.sessions[id] = jar
	return nil
}

// CreateNew registers a jar under a fresh random id and returns the id.
func (s *Store) CreateNew(jar *bili.Jar) string {
	id := uuid.NewString()
	// A uuid collision in one process is not a realistic concern; Create
	// cannot fail here.
	_ = s.Create(id, jar)
	return id
}

// Jar returns the jar for id.
func (s *Store) Jar(id string) (*bili.Jar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jar, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return jar, nil
}

// Client returns an API client bound to the session's jar. An unknown id
// degrades to an anonymous client with a warning rather than failing, so a
// stale session reference still produces a usable (unauthenticated) run.
func (s *Store) Client(id string) *bili.Client {
	jar, err := s.Jar(id)
	if err != nil {
		s.logger.Warn().Str("session_id", id).
			Msg("unknown session, using anonymous client")
		return bili.New()
	}
	return bili.NewWithOptions(bili.Options{Jar: jar})
}

// Destroy removes the session and its persisted state.
func (s *Store) Destroy(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := os.RemoveAll(filepath.Join(s.dir, id)); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

// List returns the known session ids, sorted.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Save persists the session's jar atomically to <dir>/<id>/cookies.jsonl.
func (s *Store) Save(id string) error {
	jar, err := s.Jar(id)
	if err != nil {
		return err
	}
	sessionDir := filepath.Join(s.dir, id)
	if err := os.MkdirAll(sessionDir, 0o750); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	var buf bytes.Buffer
	if err := jar.Export(&buf); err != nil {
		return fmt.Errorf("export session %s: %w", id, err)
	}
	path := filepath.Join(sessionDir, cookieFile)
	if err := renameio.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", id, err)
	}
	s.logger.Debug().Str("session_id", id).Int("cookies", jar.Len()).
		Msg("session persisted")
	return nil
}

// Load reads a persisted jar into the store under id.
func (s *Store) Load(id string) error {
	f, err := os.Open(filepath.Join(s.dir, id, cookieFile)) // #nosec G304
	if err != nil {
		return fmt.Errorf("open session %s: %w", id, err)
	}
	defer f.Close() // #nosec G307

	jar := bili.NewJar()
	if err := jar.Import(f); err != nil {
		return fmt.Errorf("import session %s: %w", id, err)
	}
	return s.Create(id, jar)
}

// LoadAll loads every persisted session under the store directory. Missing
// or malformed entries are skipped with a warning.
func (s *Store) LoadAll() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := s.Load(e.Name()); err != nil {
			s.logger.Warn().Err(err).Str("session_id", e.Name()).
				Msg("skipping unreadable session")
		}
	}
}
