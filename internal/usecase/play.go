package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"musicbridge/internal/domain"
	"musicbridge/internal/metrics"
)

// PlayByKeyword searches the library for keyword, replaces the queue with
// the matches and starts the first song. Every outcome is announced on the
// device; errors never bubble past the announcement.
func (o *Orchestrator) PlayByKeyword(ctx context.Context, keyword string) {
	if !o.library.HasDirs() {
		o.speak(ctx, "本地音乐目录还没有配置")
		return
	}
	paths := o.library.Find(keyword, o.cfg.MaxResults)
	if len(paths) == 0 {
		o.logger.Info("no songs matched", slog.String("keyword", keyword))
		o.speak(ctx, "没有找到包含"+keyword+"的歌曲")
		return
	}
	items := o.buildSongItems(ctx, paths)
	if len(items) == 0 {
		o.speak(ctx, "找到的歌曲都无法播放")
		return
	}
	o.logger.Info("queueing search results",
		slog.String("keyword", keyword),
		slog.Int("matched", len(paths)),
		slog.Int("playable", len(items)),
	)
	if cleared := o.clearQueue(ctx, true); cleared > 0 {
		metrics.PlaybackStoppedTotal.WithLabelValues("replaced").Inc()
	}
	o.speak(ctx, fmt.Sprintf("好的，找到%d首歌曲", len(items)))
	o.installAndStart(ctx, items)
}

// PlayRandom replaces the queue with a random selection from the library.
func (o *Orchestrator) PlayRandom(ctx context.Context) {
	if !o.library.HasDirs() {
		o.speak(ctx, "本地音乐目录还没有配置")
		return
	}
	paths := o.library.RandomPick(o.cfg.MaxResults)
	if len(paths) == 0 {
		o.speak(ctx, "没有找到可以播放的歌曲")
		return
	}
	items := o.buildSongItems(ctx, paths)
	if len(items) == 0 {
		o.speak(ctx, "找到的歌曲都无法播放")
		return
	}
	o.logger.Info("queueing random selection", slog.Int("playable", len(items)))
	if cleared := o.clearQueue(ctx, true); cleared > 0 {
		metrics.PlaybackStoppedTotal.WithLabelValues("replaced").Inc()
	}
	o.speak(ctx, fmt.Sprintf("好的，随机播放%d首歌曲", len(items)))
	o.installAndStart(ctx, items)
}

// buildSongItems probes each path for its duration and mints a playback URL.
// Paths whose duration cannot be determined are dropped with a warning; the
// spoken count reflects what remains.
func (o *Orchestrator) buildSongItems(ctx context.Context, paths []string) []domain.SongItem {
	items := make([]domain.SongItem, 0, len(paths))
	for i, path := range paths {
		duration, err := o.probe.Duration(ctx, path)
		if err != nil {
			o.logger.Warn("duration probe failed, song dropped",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		items = append(items, domain.SongItem{
			Position: i + 1,
			Path:     path,
			Name:     filepath.Base(path),
			URL:      o.urls.CreateFileURL(path),
			Duration: duration,
		})
	}
	return items
}

// installAndStart replaces the queue with items and starts the head.
// Callers guarantee items is non-empty.
func (o *Orchestrator) installAndStart(ctx context.Context, items []domain.SongItem) {
	o.mu.Lock()
	defer o.mu.Unlock()
	head := items[0]
	o.queue = items[1:]
	metrics.QueueLength.Set(float64(len(o.queue)))
	o.startSongLocked(ctx, head)
}
