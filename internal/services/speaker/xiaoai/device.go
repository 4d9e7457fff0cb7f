package xiaoai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"musicbridge/internal/domain"
	"musicbridge/internal/metrics"
)

// ShellRunner executes a shell one-liner on the speaker. Implemented by
// Link; faked in tests.
type ShellRunner interface {
	RunShell(ctx context.Context, script string, timeout time.Duration) (json.RawMessage, error)
}

// Device drives the speaker through its stock shell command surface:
// tts_play.sh for announcements, ubus for the assistant and the media
// player, mphelper for pausing. Implements ports.DeviceControl.
type Device struct {
	runner ShellRunner
	logger *slog.Logger
}

func NewDevice(runner ShellRunner, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{runner: runner, logger: logger}
}

// Speak plays a TTS announcement on the device.
func (d *Device) Speak(ctx context.Context, text string) error {
	return d.run(ctx, "speak", "/usr/sbin/tts_play.sh "+shellQuote(text))
}

// Ask forwards text to the built-in assistant for NLP handling and a spoken
// reply.
func (d *Device) Ask(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]any{
		"tts":      1,
		"nlp":      1,
		"nlp_text": text,
	})
	if err != nil {
		return fmt.Errorf("encode ask payload: %w", err)
	}
	return d.run(ctx, "ask", "ubus call mibrain ai_service "+shellQuote(string(payload)))
}

// PlayURL makes the device fetch and play an audio URL.
func (d *Device) PlayURL(ctx context.Context, url string) error {
	payload, err := json.Marshal(map[string]any{
		"url":  url,
		"type": 1,
	})
	if err != nil {
		return fmt.Errorf("encode play payload: %w", err)
	}
	return d.run(ctx, "play_url", "ubus call mediaplayer player_play_url "+shellQuote(string(payload)))
}

// Stop pauses whatever the device is currently playing.
func (d *Device) Stop(ctx context.Context) error {
	return d.run(ctx, "stop", "mphelper pause")
}

func (d *Device) run(ctx context.Context, command, script string) error {
	metrics.DeviceCommandsTotal.WithLabelValues(command).Inc()
	out, err := d.runner.RunShell(ctx, script, 0)
	if err != nil {
		metrics.DeviceCommandFailures.WithLabelValues(command).Inc()
		if errors.Is(err, ErrNotConnected) {
			return fmt.Errorf("%s: %w", command, domain.ErrDeviceUnavailable)
		}
		return fmt.Errorf("%s: %w", command, err)
	}
	d.logger.Debug("device command done",
		slog.String("command", command),
		slog.String("result", string(out)),
	)
	return nil
}

// shellQuote wraps s in single quotes for the speaker's busybox sh,
// escaping embedded single quotes the '\'' way.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
