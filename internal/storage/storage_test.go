package storage

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/glaubernbd/internal/models"
)

func newTestStorage(t *testing.T, maxRuns int) *Storage {
	t.Helper()
	s, err := New(maxRuns, MemoryPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRun(id string, createdAt time.Time) *models.FitRun {
	return &models.FitRun{
		ID:         id,
		Mode:       "continuous",
		Mu:         45,
		K:          1.5,
		F:          0.8,
		Norm:       100,
		DMu:        0.01,
		Success:    true,
		Status:     "FunctionConvergence",
		Chi2:       123.5,
		NDF:        40,
		Iterations: 812,
		RangeLo:    10,
		RangeHi:    500,
		Pairs:      15000,
		Duration:   3 * time.Second,
		CreatedAt:  createdAt,
	}
}

func TestStorage_AddAndGetRun(t *testing.T) {
	s := newTestStorage(t, 10)
	run := testRun("run-1", time.Now().Add(-time.Minute))

	if err := s.AddRun(run); err != nil {
		t.Fatalf("AddRun failed: %v", err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.ID != run.ID || got.Mode != run.Mode || got.Mu != run.Mu || got.DMu != run.DMu {
		t.Errorf("Expected %+v, got %+v", run, got)
	}
	if !got.Success || got.Chi2 != run.Chi2 || got.NDF != run.NDF || got.Pairs != run.Pairs {
		t.Errorf("Expected fit outcome %+v, got %+v", run, got)
	}
	if got.Duration != run.Duration {
		t.Errorf("Expected duration %v, got %v", run.Duration, got.Duration)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("Expected created at %v, got %v", run.CreatedAt, got.CreatedAt)
	}
}

func TestStorage_FailedRunKeepsNaNChi2(t *testing.T) {
	s := newTestStorage(t, 10)
	run := testRun("run-failed", time.Now().Add(-time.Minute))
	run.Success = false
	run.Chi2 = math.NaN()

	if err := s.AddRun(run); err != nil {
		t.Fatalf("AddRun failed: %v", err)
	}
	got, err := s.GetRun("run-failed")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Success {
		t.Error("Expected failed run")
	}
	if !math.IsNaN(got.Chi2) {
		t.Errorf("Expected NaN chi2, got %v", got.Chi2)
	}
}

func TestStorage_InvalidRun(t *testing.T) {
	s := newTestStorage(t, 10)
	run := testRun("", time.Now())

	if err := s.AddRun(run); err == nil {
		t.Error("Expected error for run without ID")
	}
}

func TestStorage_GetMissingRun(t *testing.T) {
	s := newTestStorage(t, 10)

	_, err := s.GetRun("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStorage_ListRunsNewestFirst(t *testing.T) {
	s := newTestStorage(t, 10)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		if err := s.AddRun(testRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("AddRun failed: %v", err)
		}
	}

	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	for i, want := range []string{"run-2", "run-1", "run-0"} {
		if runs[i].ID != want {
			t.Errorf("runs[%d] = %s, expected %s", i, runs[i].ID, want)
		}
	}
}

func TestStorage_Centrality(t *testing.T) {
	s := newTestStorage(t, 10)
	if err := s.AddRun(testRun("run-1", time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("AddRun failed: %v", err)
	}

	bins := []models.CentralityBin{
		{RunID: "run-1", Bin: 4, Multiplicity: 4, AvgNpart: 30, AvgNcoll: 45, RMSNpart: 3, RMSNcoll: 5, Weight: 0.1},
		{RunID: "run-1", Bin: 2, Multiplicity: 2, AvgNpart: 10, AvgNcoll: 12, RMSNpart: 1, RMSNcoll: 2, Weight: 0.3},
	}
	if err := s.AddCentrality("run-1", bins); err != nil {
		t.Fatalf("AddCentrality failed: %v", err)
	}

	got, err := s.GetCentrality("run-1")
	if err != nil {
		t.Fatalf("GetCentrality failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 bins, got %d", len(got))
	}
	if got[0] != bins[1] || got[1] != bins[0] {
		t.Errorf("Expected bins ordered by bin, got %+v", got)
	}

	// A second table replaces the first.
	if err := s.AddCentrality("run-1", bins[:1]); err != nil {
		t.Fatalf("AddCentrality failed: %v", err)
	}
	got, err = s.GetCentrality("run-1")
	if err != nil {
		t.Fatalf("GetCentrality failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected 1 bin after replacement, got %d", len(got))
	}

	empty, err := s.GetCentrality("run-2")
	if err != nil {
		t.Fatalf("GetCentrality failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no bins, got %d", len(empty))
	}
}

func TestStorage_CentralityRequiresRun(t *testing.T) {
	s := newTestStorage(t, 10)
	bins := []models.CentralityBin{{RunID: "ghost", Bin: 1, Weight: 1}}

	if err := s.AddCentrality("ghost", bins); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.AddCentrality("other", bins); err == nil {
		t.Error("Expected error for bins of another run")
	}
}

func TestStorage_RotateRuns(t *testing.T) {
	s := newTestStorage(t, 2)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("run-%d", i)
		if err := s.AddRun(testRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("AddRun failed: %v", err)
		}
		bins := []models.CentralityBin{{RunID: id, Bin: 1, Multiplicity: 1, AvgNpart: 2, AvgNcoll: 2, Weight: 1}}
		if err := s.AddCentrality(id, bins); err != nil {
			t.Fatalf("AddCentrality failed: %v", err)
		}
	}

	removed, err := s.RotateRuns()
	if err != nil {
		t.Fatalf("RotateRuns failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 runs removed, got %d", removed)
	}

	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-3" || runs[1].ID != "run-2" {
		t.Errorf("Expected the two newest runs to survive, got %d runs", len(runs))
	}
	if _, err := s.GetRun("run-0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected run-0 to be rotated out, got %v", err)
	}
	bins, err := s.GetCentrality("run-0")
	if err != nil {
		t.Fatalf("GetCentrality failed: %v", err)
	}
	if len(bins) != 0 {
		t.Errorf("Expected centrality of rotated run to be removed, got %d bins", len(bins))
	}

	removed, err = s.RotateRuns()
	if err != nil {
		t.Fatalf("RotateRuns failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("Expected nothing to rotate, got %d", removed)
	}
}

func TestStorage_PersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")

	s, err := New(10, path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.AddRun(testRun("run-1", time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("AddRun failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = New(10, path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()
	if s.Path() != path {
		t.Errorf("Expected path %s, got %s", path, s.Path())
	}
	if _, err := s.GetRun("run-1"); err != nil {
		t.Errorf("Expected run to survive reopen: %v", err)
	}
}
