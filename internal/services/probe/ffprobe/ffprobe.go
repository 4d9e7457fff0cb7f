package ffprobe

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"musicbridge/internal/domain"
)

// probeTimeout caps every subprocess run; a stuck probe must never stall a
// library refresh or a queue build.
const probeTimeout = 2 * time.Second

// Prober extracts durations and tags from audio files via ffprobe.
type Prober struct {
	binary string
}

func New(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

// Check verifies the configured binary is resolvable on PATH.
func (p *Prober) Check() error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("ffprobe binary %q not found: %w", p.binary, err)
	}
	return nil
}

// Duration returns the playable length of the file. WAV files are read by
// RIFF header first and only fall back to ffprobe when the header is
// unusable. Missing or non-positive durations are errors.
func (p *Prober) Duration(ctx context.Context, path string) (time.Duration, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, errors.New("file path is required")
	}
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if d, err := wavDuration(path); err == nil {
			return d, nil
		}
	}

	out, err := p.run(ctx, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	})
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", value)
	}
	return time.Duration(value * float64(time.Second)), nil
}

// Tags extracts title/artist/album from the container metadata.
func (p *Prober) Tags(ctx context.Context, path string) (domain.SongTags, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.SongTags{}, errors.New("file path is required")
	}
	out, err := p.run(ctx, []string{
		"-v", "error",
		"-show_entries", "format_tags=title,artist,album",
		"-of", "json",
		path,
	})
	if err != nil {
		return domain.SongTags{}, err
	}

	var payload probePayload
	if err := json.Unmarshal(out, &payload); err != nil {
		return domain.SongTags{}, fmt.Errorf("ffprobe output parse failed: %w", err)
	}
	return domain.SongTags{
		Title:  strings.TrimSpace(getTag(payload.Format.Tags, "title")),
		Artist: strings.TrimSpace(getTag(payload.Format.Tags, "artist")),
		Album:  strings.TrimSpace(getTag(payload.Format.Tags, "album")),
	}, nil
}

func (p *Prober) run(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, p.binary, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("ffprobe failed: %w", err)
		}
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, msg)
	}
	return stdout.Bytes(), nil
}

// probePayload is the subset of ffprobe JSON output we parse.
type probePayload struct {
	Format probeFormat `json:"format"`
}

type probeFormat struct {
	Tags map[string]string `json:"tags"`
}

func getTag(tags map[string]string, key string) string {
	if len(tags) == 0 {
		return ""
	}
	if value, ok := tags[key]; ok {
		return value
	}
	upper := strings.ToUpper(key)
	if value, ok := tags[upper]; ok {
		return value
	}
	lower := strings.ToLower(key)
	if value, ok := tags[lower]; ok {
		return value
	}
	return ""
}

// wavDuration derives the duration from the RIFF fmt and data chunks
// without spawning a subprocess.
func wavDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return 0, err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return 0, errors.New("not a RIFF/WAVE file")
	}

	var byteRate uint32
	for {
		var header [8]byte
		if _, err := io.ReadFull(f, header[:]); err != nil {
			return 0, err
		}
		id := string(header[0:4])
		size := binary.LittleEndian.Uint32(header[4:8])
		switch id {
		case "fmt ":
			if size < 16 {
				return 0, errors.New("short fmt chunk")
			}
			var fmtChunk [16]byte
			if _, err := io.ReadFull(f, fmtChunk[:]); err != nil {
				return 0, err
			}
			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			if skip := int64(size) - 16; skip > 0 {
				if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
					return 0, err
				}
			}
		case "data":
			if byteRate == 0 {
				return 0, errors.New("data chunk before fmt chunk")
			}
			seconds := float64(size) / float64(byteRate)
			if seconds <= 0 {
				return 0, errors.New("empty data chunk")
			}
			return time.Duration(seconds * float64(time.Second)), nil
		default:
			// Chunks are word-aligned; odd sizes carry a pad byte.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return 0, err
			}
		}
	}
}
