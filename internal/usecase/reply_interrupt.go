package usecase

import (
	"context"
	"log/slog"
	"strings"

	"musicbridge/internal/metrics"
)

// armReplyInterrupt opens the window in which the assistant's next spoken
// reply may be cut short. The window closes on its own after
// ReplyInterruptWindow; the orchestrator's own announcements only suspend
// it for the duration of the device call.
func (o *Orchestrator) armReplyInterrupt(reason string) {
	o.mu.Lock()
	o.replySeq++
	o.replyArmedAt = o.now()
	o.replyReason = reason
	o.mu.Unlock()
}

// isDeviceSpeech reports whether a directive header describes the speech
// synthesizer starting a reply.
func isDeviceSpeech(namespace, name string) bool {
	return strings.Contains(strings.ToLower(namespace), "speechsynthesizer") &&
		strings.Contains(strings.ToLower(name), "speak")
}

// TryInterruptReply stops the device when a speech synthesizer directive
// arrives inside an armed interrupt window. It reports whether a stop was
// issued. A stop does not close the window; repeated directives within
// ReplyStopCooldown of the last stop are ignored so one reply is never
// stopped twice.
func (o *Orchestrator) TryInterruptReply(ctx context.Context, namespace, name string) bool {
	if !isDeviceSpeech(namespace, name) {
		return false
	}

	o.mu.Lock()
	now := o.now()
	if o.replyArmedAt.IsZero() || now.Sub(o.replyArmedAt) > o.cfg.ReplyInterruptWindow {
		o.mu.Unlock()
		return false
	}
	if !o.lastReplyStopAt.IsZero() && now.Sub(o.lastReplyStopAt) < o.cfg.ReplyStopCooldown {
		o.mu.Unlock()
		return false
	}
	o.lastReplyStopAt = now
	reason := o.replyReason
	o.mu.Unlock()

	if err := o.device.Stop(ctx); err != nil {
		o.logger.Warn("reply interrupt stop failed", slog.String("error", err.Error()))
	}
	metrics.ReplyInterruptsTotal.Inc()
	o.logger.Info("assistant reply interrupted",
		slog.String("namespace", namespace),
		slog.String("name", name),
		slog.String("reason", reason),
	)
	return true
}
