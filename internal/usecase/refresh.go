package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"musicbridge/internal/metrics"
)

// RefreshAndReply runs a refresh with spoken progress announcements. When a
// refresh is already running it announces that instead and returns
// ErrRefreshBusy without waiting.
func (o *Orchestrator) RefreshAndReply(ctx context.Context, reason string) error {
	if !o.refreshMu.TryLock() {
		o.speak(ctx, "正在刷新曲库，请稍等")
		return ErrRefreshBusy
	}
	defer o.refreshMu.Unlock()

	o.speak(ctx, "好的，开始刷新曲库")
	count, err := o.refreshLocked(ctx, reason)
	if err != nil {
		o.speak(ctx, "曲库刷新失败")
		return err
	}
	o.speak(ctx, fmt.Sprintf("曲库刷新完成，共%d首歌曲", count))
	return nil
}

// Refresh runs a silent refresh, waiting for any in-flight one to finish
// first.
func (o *Orchestrator) Refresh(ctx context.Context, reason string) error {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()
	_, err := o.refreshLocked(ctx, reason)
	return err
}

// TryRefresh runs a silent refresh unless one is already in flight, in which
// case it returns ErrRefreshBusy immediately.
func (o *Orchestrator) TryRefresh(ctx context.Context, reason string) error {
	if !o.refreshMu.TryLock() {
		o.logger.Debug("refresh already running, skipped", slog.String("reason", reason))
		return ErrRefreshBusy
	}
	defer o.refreshMu.Unlock()
	_, err := o.refreshLocked(ctx, reason)
	return err
}

// refreshLocked rebuilds the library snapshot. Callers hold refreshMu.
func (o *Orchestrator) refreshLocked(ctx context.Context, reason string) (int, error) {
	started := time.Now()
	metrics.LibraryRefreshTotal.WithLabelValues(reason).Inc()
	count, err := o.library.Refresh(ctx)
	if err != nil {
		o.logger.Warn("library refresh failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("refresh library: %w", err)
	}
	o.logger.Info("library refreshed",
		slog.String("reason", reason),
		slog.Int("songs", count),
		slog.Int64("costMs", time.Since(started).Milliseconds()),
	)
	return count, nil
}

// RunPeriodicRefresh re-scans the library on a fixed interval until ctx is
// cancelled. A zero or negative interval disables it.
func (o *Orchestrator) RunPeriodicRefresh(ctx context.Context) {
	interval := o.cfg.RefreshInterval
	if interval <= 0 {
		return
	}
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = o.TryRefresh(ctx, "periodic")
		}
	}
}
