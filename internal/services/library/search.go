package library

import (
	"math/rand"

	"musicbridge/internal/domain"
)

// Search returns up to limit paths whose song matches needle in any of the
// four searchable fields. The needle must already be lowercase. Matches are
// shuffled so repeated queries for a broad keyword vary the selection.
func Search(snapshot []domain.Song, needle string, limit int) []string {
	if needle == "" || limit <= 0 {
		return nil
	}
	var matched []string
	for _, song := range snapshot {
		if song.Matches(needle) {
			matched = append(matched, song.Path)
		}
	}
	shufflePaths(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// RandomPick returns up to limit random paths from the snapshot.
func RandomPick(snapshot []domain.Song, limit int) []string {
	if limit <= 0 || len(snapshot) == 0 {
		return nil
	}
	paths := make([]string, len(snapshot))
	for i, song := range snapshot {
		paths[i] = song.Path
	}
	shufflePaths(paths)
	if len(paths) > limit {
		paths = paths[:limit]
	}
	return paths
}

func shufflePaths(paths []string) {
	rand.Shuffle(len(paths), func(i, j int) {
		paths[i], paths[j] = paths[j], paths[i]
	})
}
