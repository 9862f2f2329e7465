package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/testinvoke/internal/invoker"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// beginTestRun registers a run and fails the test on error.
func beginTestRun(t *testing.T, s *Store) string {
	t.Helper()
	id, err := s.BeginRun(context.Background(), t.Name())
	if err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}
	return id
}

// testRef returns a fixed reference for journal rows.
func testRef(test string) invoker.TestRef {
	return invoker.TestRef{
		ClassID:  "class-1",
		MethodID: "method-1",
		TestID:   test,
	}
}
