package testutil

import (
	"path/filepath"
	"testing"

	"github.com/wispkit/wispd/internal/store"
)

// OpenStore opens a migrated throwaway store under the test's temp dir.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	return st
}
