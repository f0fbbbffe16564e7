// Package storetest opens throwaway in-memory stores for tests.
package storetest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dvloznov/medallion-pipeline/internal/store"
)

// New returns a migrated in-memory store closed when the test ends.
func New(t testing.TB) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), ":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
