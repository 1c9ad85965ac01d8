package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/clinical-alerts/internal/storage"
)

// OpenStore opens a throwaway SQLite store in the test's temp directory
func OpenStore(t *testing.T) *storage.Store {
	t.Helper()

	logger := zap.NewNop()
	store, err := storage.Open(logger, storage.Options{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}
