package apihttp

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"
)

// fileChunkSize bounds a single copy to the response so a client disconnect
// is noticed between chunks instead of after the whole window.
const fileChunkSize = 64 << 10

// FileGateway serves local files under opaque hex-encoded URLs. Only paths
// previously registered through CreateFileURL are served; everything else
// answers 403 regardless of what exists on disk.
type FileGateway struct {
	baseURL string
	logger  *slog.Logger

	mu      sync.RWMutex
	allowed map[string]struct{}
}

func NewFileGateway(baseURL string, logger *slog.Logger) *FileGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileGateway{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		logger:  logger,
		allowed: make(map[string]struct{}),
	}
}

// CreateFileURL registers path in the allow-set and returns the URL the
// speaker can fetch it from. The path segment is lowercase hex of the
// absolute UTF-8 path; the trailing basename is display-only.
func (g *FileGateway) CreateFileURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	g.mu.Lock()
	g.allowed[path] = struct{}{}
	g.mu.Unlock()
	return g.baseURL + "/file/" + hex.EncodeToString([]byte(path)) + "/" + filepath.Base(path)
}

func (g *FileGateway) isAllowed(path string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.allowed[path]
	return ok
}

func decodePathToken(token string) (string, error) {
	raw, err := hex.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decode file token: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", errors.New("file token is not valid utf-8")
	}
	return string(raw), nil
}

// handleFile serves GET|HEAD /file/{hex}/{name}. The name segment is ignored.
func (g *FileGateway) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	token := strings.TrimPrefix(r.URL.Path, "/file/")
	if idx := strings.IndexByte(token, '/'); idx >= 0 {
		token = token[:idx]
	}

	path, err := decodePathToken(token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed file token")
		return
	}
	if !g.isAllowed(path) {
		writeError(w, http.StatusForbidden, "forbidden", "file not allowed")
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}

	size := info.Size()
	ext := strings.ToLower(filepath.Ext(path))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = fallbackContentType(ext)
	}

	start, end := int64(0), size-1
	status := http.StatusOK
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		s, e, rangeErr := parseByteRange(rangeHeader, size)
		if rangeErr != nil {
			// Malformed ranges get the same 416 answer as unsatisfiable ones.
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable", "range not satisfiable")
			return
		}
		start, end = s, e
		status = http.StatusPartialContent
	}

	length := end - start + 1
	if length < 0 {
		length = 0
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	file, err := os.Open(path)
	if err != nil {
		g.logger.Warn("open served file failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	defer file.Close()

	if start > 0 {
		if _, err := file.Seek(start, io.SeekStart); err != nil {
			g.logger.Warn("seek served file failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	remaining := length
	for remaining > 0 {
		chunk := int64(fileChunkSize)
		if remaining < chunk {
			chunk = remaining
		}
		n, err := io.CopyN(w, file, chunk)
		remaining -= n
		if err != nil {
			g.logger.Debug("file copy interrupted",
				slog.String("path", path),
				slog.Int64("remaining", remaining),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// ResolveBaseURL picks the base URL advertised in generated file links. An
// explicit base URL wins, then a configured device-reachable IP, then the
// local address the host would use for outbound traffic.
func ResolveBaseURL(baseURL, deviceIP string, port int) string {
	if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
		return strings.TrimRight(trimmed, "/")
	}
	if ip := strings.TrimSpace(deviceIP); ip != "" {
		return fmt.Sprintf("http://%s:%d", ip, port)
	}
	return fmt.Sprintf("http://%s:%d", guessLocalIP(), port)
}

// guessLocalIP reads the local address of an outbound UDP socket. No packet
// is sent.
func guessLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
