// Package dispatch parses the speaker agent's nested event envelopes and
// routes them: final speech recognition results go to the orchestrator's
// intent handling, synthesizer/NLP directives feed the reply interrupter.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"musicbridge/internal/metrics"
)

// Consumer is the orchestrator surface the dispatcher drives.
type Consumer interface {
	OnFinalASR(ctx context.Context, text string)
	TryInterruptReply(ctx context.Context, namespace, name string) bool
}

// Reply-candidate routing lists. Namespaces and names match by lowercased
// substring; text keys are collected, scan keys are descended into. The
// traversal visits keys in list order, so "first occurrence" is well defined
// even though JSON objects decode into unordered maps.
var (
	replyNamespaces = []string{"tts", "speechsynthesizer", "nlp", "dialog", "assistant"}
	replyNames      = []string{"reply", "respond", "speak"}

	replyTextKeys = []string{
		"text", "reply", "answer", "content", "tts",
		"say", "speech", "nlp_reply", "reply_text", "display_text",
	}
	replyScanKeys = []string{
		"payload", "data", "results", "result",
		"instruction", "directives", "cards",
	}
)

type innerHeader struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type innerEnvelope struct {
	Header  innerHeader     `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

type asrPayload struct {
	IsFinal bool `json:"is_final"`
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

// Dispatcher routes raw speaker event lines. Safe for concurrent use; the
// speaker link hands every event over on its own goroutine.
type Dispatcher struct {
	consumer Consumer
	logger   *slog.Logger

	mu            sync.Mutex
	lastReplyText string
}

func New(consumer Consumer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{consumer: consumer, logger: logger}
}

// LastReplyText returns the most recently captured assistant reply text.
func (d *Dispatcher) LastReplyText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastReplyText
}

// Dispatch parses one outer envelope and runs whichever routes match.
// Malformed input at any level is dropped without an announcement.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) {
	var outer struct {
		Event string `json:"event"`
		Data  struct {
			NewLine string `json:"NewLine"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil || outer.Data.NewLine == "" {
		metrics.DispatcherEventsTotal.WithLabelValues("dropped").Inc()
		return
	}

	var inner innerEnvelope
	if err := json.Unmarshal([]byte(outer.Data.NewLine), &inner); err != nil {
		metrics.DispatcherEventsTotal.WithLabelValues("dropped").Inc()
		return
	}

	namespace, name := inner.Header.Namespace, inner.Header.Name
	routed := false

	if isReplyCandidate(namespace, name) {
		if text := collectReplyText([]byte(outer.Data.NewLine)); text != "" {
			d.mu.Lock()
			d.lastReplyText = text
			d.mu.Unlock()
			d.logger.Debug("assistant reply captured",
				slog.String("namespace", namespace),
				slog.String("name", name),
				slog.String("text", text),
			)
			d.consumer.TryInterruptReply(ctx, namespace, name)
			metrics.DispatcherEventsTotal.WithLabelValues("reply").Inc()
			routed = true
		}
	}

	if namespace == "SpeechRecognizer" && name == "RecognizeResult" {
		if text, ok := finalASRText(inner.Payload); ok {
			d.consumer.OnFinalASR(ctx, text)
			metrics.DispatcherEventsTotal.WithLabelValues("asr_final").Inc()
			routed = true
		}
	}

	if !routed {
		metrics.DispatcherEventsTotal.WithLabelValues("ignored").Inc()
	}
}

// finalASRText extracts the recognized utterance from a RecognizeResult
// payload. Only final results with a non-empty first hypothesis count.
func finalASRText(payload json.RawMessage) (string, bool) {
	if len(payload) == 0 {
		return "", false
	}
	var p asrPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", false
	}
	if !p.IsFinal || len(p.Results) == 0 {
		return "", false
	}
	text := strings.TrimSpace(p.Results[0].Text)
	return text, text != ""
}

func isReplyCandidate(namespace, name string) bool {
	ns := strings.ToLower(namespace)
	for _, want := range replyNamespaces {
		if strings.Contains(ns, want) {
			return true
		}
	}
	n := strings.ToLower(name)
	for _, want := range replyNames {
		if strings.Contains(n, want) {
			return true
		}
	}
	return false
}

// collectReplyText deep-scans an inner envelope for spoken reply fragments
// and joins the distinct ones in traversal order.
func collectReplyText(inner []byte) string {
	var doc any
	if err := json.Unmarshal(inner, &doc); err != nil {
		return ""
	}
	var texts []string
	seen := make(map[string]struct{})
	collectReplies(doc, &texts, seen)
	return strings.Join(texts, " ")
}

func collectReplies(node any, texts *[]string, seen map[string]struct{}) {
	switch v := node.(type) {
	case map[string]any:
		for _, key := range replyTextKeys {
			s, ok := v[key].(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			*texts = append(*texts, s)
		}
		for _, key := range replyScanKeys {
			if child, ok := v[key]; ok {
				collectReplies(child, texts, seen)
			}
		}
	case []any:
		for _, item := range v {
			collectReplies(item, texts, seen)
		}
	}
}
