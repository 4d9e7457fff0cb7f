package usecase

import (
	"context"
	"log/slog"
	"time"

	"musicbridge/internal/intent"
	"musicbridge/internal/metrics"
)

// OnFinalASR handles one final speech recognition result. Command intents
// arm the reply interrupter first so the assistant's native answer to the
// same utterance can be cut short.
func (o *Orchestrator) OnFinalASR(ctx context.Context, text string) {
	in := o.parser.Classify(text)
	o.logger.Info("final asr",
		slog.String("text", text),
		slog.String("intent", in.Kind.String()),
	)
	switch in.Kind {
	case intent.KindStop:
		o.armReplyInterrupt("stop")
		o.Stop(ctx)
	case intent.KindRefresh:
		o.armReplyInterrupt("refresh")
		_ = o.RefreshAndReply(ctx, "voice")
	case intent.KindRandom:
		o.armReplyInterrupt("random")
		o.PlayRandom(ctx)
	case intent.KindWhitelist:
		o.handleWhitelist(in.Keyword)
	case intent.KindPlay:
		o.armReplyInterrupt("play")
		o.PlayByKeyword(ctx, in.Keyword)
	default:
		o.bargeIn(ctx, text)
	}
}

// bargeIn handles an utterance nothing matched. While music is playing the
// user is talking over it, so playback stops and the assistant's own answer
// gets the floor. When idle there is nothing to do.
func (o *Orchestrator) bargeIn(ctx context.Context, text string) {
	o.mu.Lock()
	playing := o.current != nil
	o.mu.Unlock()
	if !playing {
		return
	}
	o.logger.Info("user barge-in, stopping playback", slog.String("text", text))
	if cleared := o.clearQueue(ctx, true); cleared > 0 {
		metrics.PlaybackStoppedTotal.WithLabelValues("barge_in").Inc()
	}
}

// handleWhitelist lets the assistant answer a whitelisted utterance without
// losing the queue. The device pauses music on its own while it answers;
// after a short delay the current song is restarted from the top.
func (o *Orchestrator) handleWhitelist(matched string) {
	o.mu.Lock()
	// Deliberate disarm: the assistant gets to answer this one in full.
	o.replySeq++
	o.replyArmedAt = time.Time{}
	if o.current == nil {
		o.mu.Unlock()
		return
	}
	o.whitelistSeq++
	seq := o.whitelistSeq
	name := o.current.Name
	delay := o.cfg.AutoResumeDelay
	o.mu.Unlock()

	o.logger.Info("whitelist utterance, assistant takes over",
		slog.String("matched", matched),
		slog.String("current", name),
		slog.Duration("resumeIn", delay),
	)
	time.AfterFunc(delay, func() {
		o.resumeCurrent(seq)
	})
}

// resumeCurrent restarts the current song after a whitelist pause. A stale
// seq means a later whitelist utterance or a new song superseded this
// resume.
func (o *Orchestrator) resumeCurrent(seq uint64) {
	ctx := context.Background()

	o.mu.Lock()
	defer o.mu.Unlock()
	if seq != o.whitelistSeq || o.current == nil {
		return
	}
	song := *o.current
	o.cancelTimerLocked()
	if err := o.device.PlayURL(ctx, song.URL); err != nil {
		o.logger.Warn("resume play failed",
			slog.String("name", song.Name),
			slog.String("error", err.Error()),
		)
	}
	o.logger.Info("playback resumed", slog.String("name", song.Name))
	o.armTimerLocked(playbackWait(song.Duration, o.cfg.TimerBuffer))
}
