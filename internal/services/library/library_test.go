package library

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"musicbridge/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLibrary(t *testing.T, dir string, probe *fakeTagProbe, indexFile string) *Library {
	t.Helper()
	ix := NewIndexer([]string{".mp3", ".flac"}, probe, discardLogger())
	store := NewStore(indexFile, discardLogger())
	return New([]string{dir}, ix, store, discardLogger())
}

func TestLibraryRefreshAndFind(t *testing.T) {
	dir := t.TempDir()
	hello := filepath.Join(dir, "hello.mp3")
	writeFile(t, hello, "aaaa")
	writeFile(t, filepath.Join(dir, "other.mp3"), "bbbb")

	probe := &fakeTagProbe{tags: map[string]domain.SongTags{
		hello: {Title: "Hello World", Artist: "Alice"},
	}}
	lib := testLibrary(t, dir, probe, "")

	if !lib.HasDirs() {
		t.Fatal("HasDirs() = false, want true")
	}
	if lib.Size() != 0 {
		t.Fatalf("Size() = %d before refresh, want 0", lib.Size())
	}

	total, err := lib.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if total != 2 || lib.Size() != 2 {
		t.Fatalf("Refresh = %d, Size = %d, want 2/2", total, lib.Size())
	}

	got := lib.Find("Hello", 10)
	if len(got) != 1 || got[0] != hello {
		t.Errorf("Find(Hello) = %v, want [%s]", got, hello)
	}
	// Keyword matching is case-insensitive and normalized.
	if got := lib.Find("  HELLO！ ", 10); len(got) != 1 {
		t.Errorf("Find(  HELLO！ ) = %v, want one match", got)
	}
	if got := lib.Find("", 10); got != nil {
		t.Errorf("Find(\"\") = %v, want nil", got)
	}
	if got := lib.Find("！？", 10); got != nil {
		t.Errorf("Find(punctuation only) = %v, want nil", got)
	}
}

func TestLibraryRandomPick(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp3"), "aa")
	writeFile(t, filepath.Join(dir, "b.mp3"), "bb")

	lib := testLibrary(t, dir, &fakeTagProbe{}, "")
	if _, err := lib.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if got := lib.RandomPick(1); len(got) != 1 {
		t.Errorf("RandomPick(1) = %v, want one path", got)
	}
	if got := lib.RandomPick(10); len(got) != 2 {
		t.Errorf("RandomPick(10) = %v, want two paths", got)
	}
}

func TestLibrarySeedsFromStore(t *testing.T) {
	indexFile := filepath.Join(t.TempDir(), "index.json")
	seed := NewStore(indexFile, discardLogger())
	if err := seed.Save([]domain.Song{
		{Path: "/music/x.mp3", NameLower: "x.mp3", TitleLower: "cached"},
		{Path: "/music/y.mp3", NameLower: "y.mp3"},
	}); err != nil {
		t.Fatalf("seed Save: %v", err)
	}

	lib := testLibrary(t, t.TempDir(), &fakeTagProbe{}, indexFile)
	if lib.Size() != 2 {
		t.Fatalf("Size() = %d after store seed, want 2", lib.Size())
	}
	if got := lib.Find("cached", 10); len(got) != 1 || got[0] != "/music/x.mp3" {
		t.Errorf("Find(cached) = %v, want [/music/x.mp3]", got)
	}
}

func TestLibraryRefreshPersists(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp3"), "aa")
	indexFile := filepath.Join(t.TempDir(), "index.json")

	lib := testLibrary(t, dir, &fakeTagProbe{}, indexFile)
	if _, err := lib.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	persisted := NewStore(indexFile, discardLogger()).Load()
	if len(persisted) != 1 {
		t.Fatalf("persisted %d songs, want 1", len(persisted))
	}
	if persisted[0].NameLower != "a.mp3" {
		t.Errorf("persisted NameLower = %q, want %q", persisted[0].NameLower, "a.mp3")
	}
}

func TestLibraryHasDirs(t *testing.T) {
	ix := NewIndexer(nil, &fakeTagProbe{}, discardLogger())
	lib := New(nil, ix, NewStore("", discardLogger()), discardLogger())
	if lib.HasDirs() {
		t.Error("HasDirs() = true for empty dir list")
	}
}
