package metrics

import (
	"log"
	"sync"

	"github.com/ca-srg/lastmsg/internal/types"
)

var (
	globalStore *Store
	initOnce    sync.Once
	initErr     error
)

// Init opens the global stats store at dbPath.
// It is safe to call multiple times; subsequent calls are no-ops.
func Init(dbPath string) error {
	initOnce.Do(func() {
		globalStore, initErr = NewStoreWithPath(dbPath)
		if initErr != nil {
			log.Printf("metrics: failed to initialize store: %v", initErr)
		}
	})
	return initErr
}

// RecordSearch increments the search count for source and outcome.
// If the store is not initialized this only logs a warning; stats never fail a search.
func RecordSearch(source types.Source, outcome Outcome) {
	if globalStore == nil {
		log.Printf("metrics: cannot record search, store not initialized")
		return
	}

	if err := globalStore.Increment(source, outcome); err != nil {
		log.Printf("metrics: failed to record search for %s/%s: %v", source, outcome, err)
	}
}

// GetStats returns the cumulative search counts.
// Returns nil if the store is not initialized.
func GetStats() map[Key]int64 {
	if globalStore == nil {
		return nil
	}

	stats, err := globalStore.GetAllTotals()
	if err != nil {
		log.Printf("metrics: failed to get stats: %v", err)
		return nil
	}

	return stats
}

// Close closes the global stats store.
func Close() error {
	if globalStore != nil {
		return globalStore.Close()
	}
	return nil
}

// SetStoreForTesting sets the global store instance for testing purposes.
func SetStoreForTesting(store *Store) {
	globalStore = store
}

// ResetForTesting resets the global state for testing purposes.
func ResetForTesting() {
	if globalStore != nil {
		_ = globalStore.Close()
	}
	globalStore = nil
	initOnce = sync.Once{}
	initErr = nil
}
