package ports

import "context"

// DeviceControl is the speaker's command surface. All calls are
// fire-and-forget from the orchestrator's point of view: playback completion
// is never awaited, the auto-advance timer is the source of truth.
type DeviceControl interface {
	// Speak plays a TTS announcement on the device.
	Speak(ctx context.Context, text string) error
	// Ask forwards text to the built-in assistant for NLP handling and reply.
	Ask(ctx context.Context, text string) error
	// PlayURL makes the device fetch and play an audio URL.
	PlayURL(ctx context.Context, url string) error
	// Stop pauses whatever the device is currently playing.
	Stop(ctx context.Context) error
}
