package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"musicbridge/internal/domain"
	"musicbridge/internal/domain/ports"
	"musicbridge/internal/intent"
	"musicbridge/internal/metrics"
)

// minPlaybackWait keeps the auto-advance timer sane for zero-length or
// mis-probed tracks.
const minPlaybackWait = 100 * time.Millisecond

// OrchestratorConfig carries the tunables the orchestrator needs from the
// application config.
type OrchestratorConfig struct {
	MaxResults           int
	TimerBuffer          time.Duration
	RefreshInterval      time.Duration
	ReplyInterruptWindow time.Duration
	ReplyStopCooldown    time.Duration
	AutoResumeDelay      time.Duration
}

// Orchestrator owns the playback queue and every voice-triggered flow. All
// queue state lives behind one mutex; the auto-advance timer is the only
// thing that decides when a song is over — device playback is never awaited.
type Orchestrator struct {
	device  ports.DeviceControl
	library ports.Library
	probe   ports.DurationProbe
	urls    ports.URLMinter
	parser  *intent.Parser
	logger  *slog.Logger
	cfg     OrchestratorConfig
	now     func() time.Time

	mu         sync.Mutex
	queue      []domain.SongItem
	current    *domain.SongItem
	timer      *time.Timer
	generation uint64

	// Reply-interrupt window, guarded by mu. replySeq bumps on every arm
	// and deliberate disarm so a suspended window is only restored when
	// nothing superseded it in between.
	replyArmedAt    time.Time
	replyReason     string
	replySeq        uint64
	lastReplyStopAt time.Time
	whitelistSeq    uint64

	refreshMu sync.Mutex
}

func NewOrchestrator(
	device ports.DeviceControl,
	library ports.Library,
	probe ports.DurationProbe,
	urls ports.URLMinter,
	parser *intent.Parser,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}
	if cfg.TimerBuffer < 0 {
		cfg.TimerBuffer = 0
	}
	if cfg.ReplyInterruptWindow <= 0 {
		cfg.ReplyInterruptWindow = 20 * time.Second
	}
	if cfg.ReplyStopCooldown < 0 {
		cfg.ReplyStopCooldown = 0
	}
	if cfg.AutoResumeDelay <= 0 {
		cfg.AutoResumeDelay = 1800 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		device:  device,
		library: library,
		probe:   probe,
		urls:    urls,
		parser:  parser,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Stop clears the queue and stops the device. Returns the number of entries
// cleared, counting the current song.
func (o *Orchestrator) Stop(ctx context.Context) int {
	cleared := o.clearQueue(ctx, true)
	if cleared > 0 {
		metrics.PlaybackStoppedTotal.WithLabelValues("stop").Inc()
	}
	o.logger.Info("playback stopped, queue cleared", slog.Int("cleared", cleared))
	return cleared
}

// clearQueue cancels the timer, drops all queue state and, when stop is set,
// stops the device. The device call happens after the lock is released.
func (o *Orchestrator) clearQueue(ctx context.Context, stop bool) int {
	o.mu.Lock()
	cleared := len(o.queue)
	if o.current != nil {
		cleared++
	}
	o.cancelTimerLocked()
	o.queue = nil
	o.current = nil
	metrics.QueueLength.Set(0)
	o.mu.Unlock()

	if stop {
		if err := o.device.Stop(ctx); err != nil {
			o.logger.Warn("device stop failed", slog.String("error", err.Error()))
		}
	}
	return cleared
}

// startSongLocked begins playback of song. Callers hold mu. The play command
// and the armed timer stay inside the critical section so a concurrent
// clearQueue observes either nothing or a fully started song.
func (o *Orchestrator) startSongLocked(ctx context.Context, song domain.SongItem) {
	// The play command is issued under the lock, so a reply directive can
	// never race with it; the interrupt window stays armed for the
	// assistant's canned answer that follows a voice command.
	o.whitelistSeq++ // a new song supersedes any pending whitelist resume
	o.current = &song
	if err := o.device.PlayURL(ctx, song.URL); err != nil {
		o.logger.Warn("play url failed",
			slog.String("name", song.Name),
			slog.String("error", err.Error()),
		)
	}
	metrics.PlaybackStartedTotal.Inc()
	o.logger.Info("playback started",
		slog.String("name", song.Name),
		slog.Duration("duration", song.Duration),
		slog.String("path", song.Path),
	)
	o.armTimerLocked(playbackWait(song.Duration, o.cfg.TimerBuffer))
}

// cancelTimerLocked invalidates any armed auto-advance timer. The generation
// bump makes an in-flight wakeup stale, so calling this from the timer's own
// fire path is a no-op.
func (o *Orchestrator) cancelTimerLocked() {
	o.generation++
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

func (o *Orchestrator) armTimerLocked(wait time.Duration) {
	o.cancelTimerLocked()
	gen := o.generation
	o.timer = time.AfterFunc(wait, func() {
		o.onSongTimer(gen)
	})
}

// onSongTimer advances the queue when a song's play window elapses. A stale
// generation means the timer was cancelled or replaced after this wakeup was
// scheduled.
func (o *Orchestrator) onSongTimer(gen uint64) {
	ctx := context.Background()

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		return
	}
	o.timer = nil
	if len(o.queue) == 0 {
		o.current = nil
		metrics.QueueLength.Set(0)
		o.logger.Info("queue drained, playback idle")
		return
	}
	next := o.queue[0]
	o.queue = o.queue[1:]
	metrics.QueueLength.Set(float64(len(o.queue)))
	o.startSongLocked(ctx, next)
}

// speak plays a TTS announcement. The reply-interrupt window is suspended
// while the device call is in flight so the orchestrator never stops its
// own output, then restored with the original timestamp: the assistant's
// canned reply to the triggering utterance arrives after the announcement
// and must still be interruptible.
func (o *Orchestrator) speak(ctx context.Context, text string) {
	o.mu.Lock()
	armedAt, reason, seq := o.replyArmedAt, o.replyReason, o.replySeq
	o.replyArmedAt = time.Time{}
	o.mu.Unlock()

	if err := o.device.Speak(ctx, text); err != nil {
		o.logger.Warn("speak failed",
			slog.String("text", text),
			slog.String("error", err.Error()),
		)
	}

	if armedAt.IsZero() {
		return
	}
	o.mu.Lock()
	// A re-arm or deliberate disarm that happened meanwhile wins.
	if o.replySeq == seq {
		o.replyArmedAt = armedAt
		o.replyReason = reason
	}
	o.mu.Unlock()
}

func playbackWait(duration, buffer time.Duration) time.Duration {
	if duration < minPlaybackWait {
		duration = minPlaybackWait
	}
	return duration + buffer
}
