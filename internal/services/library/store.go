package library

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"musicbridge/internal/domain"
)

// Store persists library snapshots as a JSON array. An empty path disables
// persistence: Load returns nothing and Save is a no-op.
type Store struct {
	path   string
	logger *slog.Logger
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: strings.TrimSpace(path), logger: logger}
}

func (s *Store) Enabled() bool { return s.path != "" }

// Load reads the persisted snapshot. A missing file, malformed JSON or a
// non-array top level yields an empty result; array entries that are not
// song objects are skipped.
func (s *Store) Load() []domain.Song {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("read library index", "path", s.path, "error", err)
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		s.logger.Warn("parse library index", "path", s.path, "error", err)
		return nil
	}
	songs := make([]domain.Song, 0, len(items))
	for _, item := range items {
		var song domain.Song
		if err := json.Unmarshal(item, &song); err != nil {
			continue
		}
		songs = append(songs, song)
	}
	s.logger.Info("library index loaded", "path", s.path, "songs", len(songs))
	return songs
}

// Save atomically replaces the index file with the given snapshot.
func (s *Store) Save(songs []domain.Song) error {
	if s.path == "" {
		return nil
	}
	if songs == nil {
		songs = []domain.Song{}
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create index dir: %w", err)
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(songs); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := renameio.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}
