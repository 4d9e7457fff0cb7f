package domain

import (
	"strings"
	"time"
)

// Song is one indexed library entry. Identity is the absolute path; the same
// path with a different (Size, MtimeNS) pair counts as a different version
// and is re-probed on the next refresh. The lowercased fields are what
// keyword search runs against; tag fields stay empty when extraction fails.
type Song struct {
	Path        string `json:"path"`
	NameLower   string `json:"name_lower"`
	TitleLower  string `json:"title_lower"`
	ArtistLower string `json:"artist_lower"`
	AlbumLower  string `json:"album_lower"`
	Size        int64  `json:"size"`
	MtimeNS     int64  `json:"mtime_ns"`
}

// SameVersion reports whether an on-disk (size, mtime) pair still matches
// this record, i.e. the cached metadata can be reused without re-probing.
func (s Song) SameVersion(size, mtimeNS int64) bool {
	return s.Size == size && s.MtimeNS == mtimeNS
}

// Matches reports whether needle occurs in any searchable field. The caller
// is responsible for passing a lowercased, trimmed needle.
func (s Song) Matches(needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(s.NameLower, needle) ||
		strings.Contains(s.TitleLower, needle) ||
		strings.Contains(s.ArtistLower, needle) ||
		strings.Contains(s.AlbumLower, needle)
}

// SongTags holds raw tag values as reported by the probe, before any
// normalization.
type SongTags struct {
	Title  string
	Artist string
	Album  string
}

// SongItem is a playback queue entry minted at search time. Position is the
// 1-based rank within the original search result and is kept only for
// logging; the queue itself is a plain FIFO.
type SongItem struct {
	Position int
	Path     string
	Name     string
	URL      string
	Duration time.Duration
}
