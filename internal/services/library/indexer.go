package library

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"musicbridge/internal/domain"
	"musicbridge/internal/domain/ports"
	"musicbridge/internal/metrics"
)

// candidate is a music file discovered by the walk, pending tag extraction.
type candidate struct {
	path    string
	name    string
	size    int64
	mtimeNS int64
}

// Indexer builds library snapshots from the configured music directories.
// Tag extraction runs on a bounded worker pool.
type Indexer struct {
	extensions map[string]struct{}
	probe      ports.TagProbe
	workers    int64
	logger     *slog.Logger
}

// NewIndexer builds an Indexer. An empty extension list disables filtering:
// every regular file under the music dirs becomes a candidate.
func NewIndexer(extensions []string, probe ports.TagProbe, logger *slog.Logger) *Indexer {
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		set[ext] = struct{}{}
	}
	workers := int64(min(8, runtime.GOMAXPROCS(0)))
	if workers < 1 {
		workers = 1
	}
	return &Indexer{
		extensions: set,
		probe:      probe,
		workers:    workers,
		logger:     logger,
	}
}

// Build walks the music directories and produces a snapshot sorted by path.
// Records from previous with an unchanged (size, mtime) pair are reused
// verbatim without probing. Probe failures yield records with empty tags;
// the only error is context cancellation.
func (ix *Indexer) Build(ctx context.Context, dirs []string, previous []domain.Song) ([]domain.Song, error) {
	ix.logger.Info("library index refresh started", "dirs", dirs)
	candidates := ix.collect(dirs)
	if len(candidates) == 0 {
		ix.logger.Info("library index refresh done", "total", 0)
		return nil, nil
	}

	previousByPath := make(map[string]domain.Song, len(previous))
	for _, song := range previous {
		previousByPath[song.Path] = song
	}

	reused := make([]domain.Song, 0, len(candidates))
	pending := make([]candidate, 0, len(candidates))
	for _, cand := range candidates {
		if prev, ok := previousByPath[cand.path]; ok && prev.SameVersion(cand.size, cand.mtimeNS) {
			reused = append(reused, prev)
			continue
		}
		pending = append(pending, cand)
	}

	probed, err := ix.probeAll(ctx, pending)
	if err != nil {
		return nil, err
	}
	metrics.LibrarySongsReused.Add(float64(len(reused)))
	metrics.LibrarySongsProbed.Add(float64(len(probed)))

	songs := append(reused, probed...)
	sort.Slice(songs, func(i, j int) bool { return songs[i].Path < songs[j].Path })
	ix.logger.Info("library index refresh done",
		"total", len(songs), "reused", len(reused), "probed", len(probed), "workers", ix.workers)
	return songs, nil
}

func (ix *Indexer) collect(dirs []string) []candidate {
	var candidates []candidate
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			ix.logger.Warn("skipping invalid music dir", "dir", dir)
			continue
		}
		_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				ix.logger.Debug("walk error", "path", path, "error", err)
				return nil
			}
			if entry.IsDir() {
				return nil
			}
			if !ix.wantsExt(entry.Name()) {
				return nil
			}
			fileInfo, err := entry.Info()
			if err != nil {
				return nil
			}
			candidates = append(candidates, candidate{
				path:    path,
				name:    entry.Name(),
				size:    fileInfo.Size(),
				mtimeNS: fileInfo.ModTime().UnixNano(),
			})
			return nil
		})
	}
	return candidates
}

func (ix *Indexer) wantsExt(name string) bool {
	if len(ix.extensions) == 0 {
		return true
	}
	_, ok := ix.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// probeAll extracts tags for the pending candidates with at most
// ix.workers probes in flight.
func (ix *Indexer) probeAll(ctx context.Context, pending []candidate) ([]domain.Song, error) {
	if len(pending) == 0 {
		return nil, nil
	}
	songs := make([]domain.Song, len(pending))
	sem := semaphore.NewWeighted(ix.workers)
	var wg sync.WaitGroup
	for i, cand := range pending {
		wg.Add(1)
		go func(index int, cand candidate) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			songs[index] = ix.buildSong(ctx, cand)
		}(i, cand)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return songs, nil
}

func (ix *Indexer) buildSong(ctx context.Context, cand candidate) domain.Song {
	song := domain.Song{
		Path:      cand.path,
		NameLower: strings.ToLower(cand.name),
		Size:      cand.size,
		MtimeNS:   cand.mtimeNS,
	}
	tags, err := ix.probe.Tags(ctx, cand.path)
	if err != nil {
		ix.logger.Debug("tag probe failed", "path", cand.path, "error", err)
		return song
	}
	song.TitleLower = strings.ToLower(strings.TrimSpace(tags.Title))
	song.ArtistLower = strings.ToLower(strings.TrimSpace(tags.Artist))
	song.AlbumLower = strings.ToLower(strings.TrimSpace(tags.Album))
	return song
}
