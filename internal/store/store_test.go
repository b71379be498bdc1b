package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/condoflow/condoflow/pkg/models"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "condoflow.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestOpen_MissingFile(t *testing.T) {
	s := tempStore(t)
	doc, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(doc.Goals) != 0 || len(doc.Condos) != 0 {
		t.Error("expected empty document for missing file")
	}
	if doc.SessionIndex == nil || doc.SessionCondoIndex == nil {
		t.Error("expected initialized indexes")
	}
}

func TestUpdate_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "condoflow.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	err = s.Update(func(doc *models.Document) error {
		doc.Goals = append(doc.Goals, &models.Goal{
			ID:        "g1",
			CondoID:   "c1",
			Title:     "adopt structured logging",
			Status:    models.GoalStatusActive,
			UpdatedAt: time.Now(),
		})
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	g, err := reopened.Goal("g1")
	if err != nil {
		t.Fatalf("goal lookup after reopen: %v", err)
	}
	if g.Title != "adopt structured logging" {
		t.Errorf("title = %q", g.Title)
	}
}

func TestUpdate_ErrorDiscardsPartialMutation(t *testing.T) {
	s := tempStore(t)
	if err := s.Update(func(doc *models.Document) error {
		doc.Goals = append(doc.Goals, &models.Goal{ID: "g1"})
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	wantErr := errors.New("boom")
	err := s.Update(func(doc *models.Document) error {
		doc.Goals[0].Title = "half-applied"
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("update error = %v, want boom", err)
	}

	g, err := s.Goal("g1")
	if err != nil {
		t.Fatalf("goal: %v", err)
	}
	if g.Title == "half-applied" {
		t.Error("failed update leaked a partial mutation")
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := tempStore(t)
	if err := s.Update(func(doc *models.Document) error {
		doc.Goals = append(doc.Goals, &models.Goal{
			ID:    "g1",
			Tasks: []*models.Task{{ID: "t1", Status: models.TaskStatusPending}},
		})
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	snap.Goals[0].Tasks[0].Status = models.TaskStatusDone

	g, _ := s.Goal("g1")
	if g.Tasks[0].Status != models.TaskStatusPending {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestUpdateGoal_NotFound(t *testing.T) {
	s := tempStore(t)
	err := s.UpdateGoal("missing", func(g *models.Goal) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdate_ConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	s := tempStore(t)
	if err := s.Update(func(doc *models.Document) error {
		doc.Goals = append(doc.Goals, &models.Goal{ID: "g1"})
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.UpdateGoal("g1", func(g *models.Goal) error {
				g.MaxRetries++
				return nil
			})
		}()
	}
	wg.Wait()

	g, err := s.Goal("g1")
	if err != nil {
		t.Fatalf("goal: %v", err)
	}
	if g.MaxRetries != writers {
		t.Errorf("MaxRetries = %d, want %d (lost updates)", g.MaxRetries, writers)
	}
}

func TestSave_AtomicReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "condoflow.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Update(func(doc *models.Document) error { return nil }); err != nil {
		t.Fatalf("update: %v", err)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != filepath.Base(path) {
			t.Errorf("unexpected leftover file %q", e.Name())
		}
	}
}
