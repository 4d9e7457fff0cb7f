package usecase

import (
	"context"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newInterruptOrchestrator(dev *fakeDevice) (*Orchestrator, *testClock) {
	o := newTestOrchestrator(dev, &fakeLibrary{dirs: true}, &fakeProbe{})
	clk := newTestClock()
	o.now = clk.now
	return o, clk
}

func TestReplyInterruptStopsArmedReply(t *testing.T) {
	dev := &fakeDevice{}
	o, _ := newInterruptOrchestrator(dev)

	o.armReplyInterrupt("play")
	if !o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak") {
		t.Fatal("armed interrupt did not fire")
	}
	if got := dev.count("stop"); got != 1 {
		t.Fatalf("stop calls = %d", got)
	}
}

func TestReplyInterruptCooldownThenRefire(t *testing.T) {
	dev := &fakeDevice{}
	o, clk := newInterruptOrchestrator(dev)

	o.armReplyInterrupt("play")
	if !o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak") {
		t.Fatal("first interrupt did not fire")
	}
	// Inside the cooldown the same reply is not stopped twice.
	if o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak") {
		t.Fatal("interrupt fired inside cooldown")
	}
	// The window stays armed after a stop; a later directive fires again.
	clk.advance(2 * time.Second)
	if !o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak") {
		t.Fatal("interrupt did not refire after cooldown")
	}
	if got := dev.count("stop"); got != 2 {
		t.Fatalf("stop calls = %d", got)
	}
}

func TestReplyInterruptWindowExpires(t *testing.T) {
	dev := &fakeDevice{}
	o, clk := newInterruptOrchestrator(dev)

	o.armReplyInterrupt("play")
	clk.advance(21 * time.Second)
	if o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak") {
		t.Fatal("interrupt fired after the window expired")
	}
	if got := dev.count("stop"); got != 0 {
		t.Fatalf("stop calls = %d", got)
	}
}

func TestReplyInterruptNeverFiresUnarmed(t *testing.T) {
	dev := &fakeDevice{}
	o, _ := newInterruptOrchestrator(dev)

	if o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak") {
		t.Fatal("interrupt fired without being armed")
	}
}

func TestReplyInterruptIgnoresOtherDirectives(t *testing.T) {
	dev := &fakeDevice{}
	o, _ := newInterruptOrchestrator(dev)

	o.armReplyInterrupt("play")
	if o.TryInterruptReply(context.Background(), "AudioPlayer", "Play") {
		t.Fatal("interrupt fired for a player directive")
	}
	if o.TryInterruptReply(context.Background(), "TTS", "Announce") {
		t.Fatal("interrupt fired without a synthesizer namespace")
	}
	if got := dev.count("stop"); got != 0 {
		t.Fatalf("stop calls = %d", got)
	}
}

func TestReplyInterruptMatchesCaseInsensitively(t *testing.T) {
	dev := &fakeDevice{}
	o, _ := newInterruptOrchestrator(dev)

	o.armReplyInterrupt("play")
	if !o.TryInterruptReply(context.Background(), "cloud.SpeechSynthesizer.v1", "sPeAk") {
		t.Fatal("interrupt did not match mixed-case header")
	}
}

func TestReplyInterruptSuppressedDuringOwnSpeech(t *testing.T) {
	dev := &fakeDevice{}
	o, _ := newInterruptOrchestrator(dev)

	o.armReplyInterrupt("play")
	firedInFlight := false
	dev.onSpeak = func() {
		firedInFlight = o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak")
	}
	o.speak(context.Background(), "好的，找到1首歌曲")
	if firedInFlight {
		t.Fatal("interrupt fired against the orchestrator's own announcement")
	}
	if got := dev.count("stop"); got != 0 {
		t.Fatalf("stop calls = %d", got)
	}
}

func TestReplyInterruptRestoredAfterOwnSpeech(t *testing.T) {
	dev := &fakeDevice{}
	o, clk := newInterruptOrchestrator(dev)

	o.armReplyInterrupt("play")
	o.speak(context.Background(), "好的，找到1首歌曲")
	// The announcement only suspends the window; the assistant's canned
	// reply lands after it and is still cut short.
	clk.advance(200 * time.Millisecond)
	if !o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak") {
		t.Fatal("interrupt did not fire after own announcement returned")
	}
	if got := dev.count("stop"); got != 1 {
		t.Fatalf("stop calls = %d", got)
	}
}

func TestReplyInterruptRestoreKeepsOriginalExpiry(t *testing.T) {
	dev := &fakeDevice{}
	o, clk := newInterruptOrchestrator(dev)

	o.armReplyInterrupt("play")
	clk.advance(19 * time.Second)
	o.speak(context.Background(), "好的，找到1首歌曲")
	// Restoration does not start a fresh 20s window.
	clk.advance(2 * time.Second)
	if o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak") {
		t.Fatal("interrupt fired past the original window")
	}
}

func TestWhitelistDisarmSurvivesOwnSpeech(t *testing.T) {
	dev := &fakeDevice{}
	o, _ := newInterruptOrchestrator(dev)

	o.armReplyInterrupt("play")
	dev.onSpeak = func() {
		// A whitelist utterance lands while the announcement is in flight;
		// its deliberate disarm must not be undone by the restore.
		o.handleWhitelist("几点")
	}
	o.speak(context.Background(), "好的，找到1首歌曲")
	if o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak") {
		t.Fatal("interrupt fired after a whitelist disarm")
	}
}

func TestPlayCommandReplyStillInterrupted(t *testing.T) {
	dev := &fakeDevice{}
	lib := &fakeLibrary{dirs: true, found: []string{"/music/hello.mp3"}}
	probe := &fakeProbe{durations: map[string]time.Duration{
		"/music/hello.mp3": 10 * time.Second,
	}}
	o := newTestOrchestrator(dev, lib, probe)
	clk := newTestClock()
	o.now = clk.now

	o.OnFinalASR(context.Background(), "播放hello")
	if got := dev.count("play:"); got != 1 {
		t.Fatalf("play calls = %d", got)
	}
	if got := dev.count("speak:"); got != 1 {
		t.Fatalf("speak calls = %d", got)
	}
	stops := dev.count("stop")

	// The assistant's own reply to the utterance lands shortly after the
	// announcement and the song start. It must still be cut short.
	clk.advance(200 * time.Millisecond)
	if !o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak") {
		t.Fatal("assistant reply was not interrupted after a play command")
	}
	if got := dev.count("stop"); got != stops+1 {
		t.Fatalf("stop calls = %d, want %d", got, stops+1)
	}

	// A second directive inside the cooldown is the same reply; no refire.
	clk.advance(500 * time.Millisecond)
	if o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak") {
		t.Fatal("interrupt refired inside cooldown")
	}
	if got := dev.count("stop"); got != stops+1 {
		t.Fatalf("stop calls after cooldown hit = %d", got)
	}
}

func TestStopCommandKeepsWindowArmed(t *testing.T) {
	dev := &fakeDevice{}
	o, _ := newInterruptOrchestrator(dev)

	o.OnFinalASR(context.Background(), "停止播放")
	if got := dev.count("stop"); got != 1 {
		t.Fatalf("stop calls after command = %d", got)
	}
	// The stop flow never speaks, so the window must survive for the
	// assistant's own "已停止" style reply.
	if !o.TryInterruptReply(context.Background(), "SpeechSynthesizer", "Speak") {
		t.Fatal("interrupt did not fire after stop command")
	}
	if got := dev.count("stop"); got != 2 {
		t.Fatalf("stop calls = %d", got)
	}
}
