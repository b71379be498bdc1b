// Package store provides the persisted single source of truth for
// condos, goals, and session bindings.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/condoflow/condoflow/pkg/models"
)

// ErrNotFound indicates a requested entity does not exist in the document.
var ErrNotFound = errors.New("not found")

// Store owns the persisted document. All mutations run through Update,
// which serializes writers so concurrent mutations cannot lose updates.
type Store struct {
	path string

	mu  sync.Mutex
	doc *models.Document
}

// Open loads the document at path, creating an empty one if the file
// does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the path of the backing document file.
func (s *Store) Path() string {
	return s.path
}

// load reads the document from disk into memory.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.doc = models.NewDocument()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	doc := models.NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if doc.SessionIndex == nil {
		doc.SessionIndex = make(map[string]models.SessionBinding)
	}
	if doc.SessionCondoIndex == nil {
		doc.SessionCondoIndex = make(map[string]string)
	}
	s.doc = doc
	return nil
}

// save writes the document atomically: marshal to a temp file in the same
// directory, then rename over the target.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create document directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".condoflow-*.json")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp document: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

// Update runs fn against the live document under the writer lock and
// persists the result. If fn returns an error the document is reloaded
// from disk so a partial in-memory mutation is discarded.
func (s *Store) Update(fn func(doc *models.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(s.doc); err != nil {
		if reloadErr := s.load(); reloadErr != nil {
			return fmt.Errorf("%w (reload after failed update: %v)", err, reloadErr)
		}
		return err
	}
	return s.save()
}

// View runs fn against a deep copy of the document. The copy is safe to
// retain; mutating it has no effect on the store.
func (s *Store) View(fn func(doc *models.Document)) error {
	doc, err := s.Snapshot()
	if err != nil {
		return err
	}
	fn(doc)
	return nil
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(s.doc)
	if err != nil {
		return nil, fmt.Errorf("snapshot document: %w", err)
	}
	doc := models.NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("snapshot document: %w", err)
	}
	if doc.SessionIndex == nil {
		doc.SessionIndex = make(map[string]models.SessionBinding)
	}
	if doc.SessionCondoIndex == nil {
		doc.SessionCondoIndex = make(map[string]string)
	}
	return doc, nil
}

// Goal returns a deep copy of the goal with the given ID.
func (s *Store) Goal(goalID string) (*models.Goal, error) {
	doc, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	g := doc.Goal(goalID)
	if g == nil {
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	return g, nil
}

// Condo returns a deep copy of the condo with the given ID.
func (s *Store) Condo(condoID string) (*models.Condo, error) {
	doc, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	c := doc.Condo(condoID)
	if c == nil {
		return nil, fmt.Errorf("condo %s: %w", condoID, ErrNotFound)
	}
	return c, nil
}

// UpdateGoal runs fn against the stored goal with the given ID.
func (s *Store) UpdateGoal(goalID string, fn func(g *models.Goal) error) error {
	return s.Update(func(doc *models.Document) error {
		g := doc.Goal(goalID)
		if g == nil {
			return fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
		}
		return fn(g)
	})
}

// UpdateCondo runs fn against the stored condo with the given ID.
func (s *Store) UpdateCondo(condoID string, fn func(c *models.Condo) error) error {
	return s.Update(func(doc *models.Document) error {
		c := doc.Condo(condoID)
		if c == nil {
			return fmt.Errorf("condo %s: %w", condoID, ErrNotFound)
		}
		return fn(c)
	})
}
