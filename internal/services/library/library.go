package library

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"musicbridge/internal/domain"
	"musicbridge/internal/intent"
	"musicbridge/internal/metrics"
)

// Library holds the current snapshot and ties the indexer and store
// together. Readers take a snapshot reference under a short lock and search
// without it; Refresh swaps the reference.
type Library struct {
	dirs    []string
	indexer *Indexer
	store   *Store
	logger  *slog.Logger

	mu    sync.RWMutex
	songs []domain.Song
}

// New builds a Library and seeds the snapshot from the store, so searches
// work before the first refresh completes.
func New(dirs []string, indexer *Indexer, store *Store, logger *slog.Logger) *Library {
	lib := &Library{
		dirs:    dirs,
		indexer: indexer,
		store:   store,
		logger:  logger,
	}
	if songs := store.Load(); len(songs) > 0 {
		lib.songs = songs
		metrics.LibrarySongs.Set(float64(len(songs)))
	}
	return lib
}

func (l *Library) HasDirs() bool { return len(l.dirs) > 0 }

func (l *Library) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.songs)
}

func (l *Library) snapshot() []domain.Song {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.songs
}

// Find returns up to limit shuffled paths matching the keyword. The keyword
// is normalized and lowercased before matching; an empty result of that
// normalization returns nothing.
func (l *Library) Find(keyword string, limit int) []string {
	needle := strings.ToLower(intent.Normalize(keyword))
	if needle == "" {
		return nil
	}
	snapshot := l.snapshot()
	selected := Search(snapshot, needle, limit)
	l.logger.Info("library search done",
		"keyword", keyword, "indexed", len(snapshot), "returned", len(selected), "limit", limit)
	return selected
}

// RandomPick returns up to limit random paths from the snapshot.
func (l *Library) RandomPick(limit int) []string {
	snapshot := l.snapshot()
	selected := RandomPick(snapshot, limit)
	l.logger.Info("library random pick done",
		"indexed", len(snapshot), "returned", len(selected), "limit", limit)
	return selected
}

// Refresh rebuilds the snapshot from disk and persists it. The previous
// snapshot seeds record reuse. Store failures are logged, not returned;
// callers serialize refreshes themselves.
func (l *Library) Refresh(ctx context.Context) (int, error) {
	started := time.Now()
	songs, err := l.indexer.Build(ctx, l.dirs, l.snapshot())
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	l.songs = songs
	l.mu.Unlock()
	metrics.LibrarySongs.Set(float64(len(songs)))
	metrics.LibraryRefreshDuration.Observe(time.Since(started).Seconds())
	if err := l.store.Save(songs); err != nil {
		l.logger.Warn("persist library index", "error", err)
	}
	return len(songs), nil
}
