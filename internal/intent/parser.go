package intent

import (
	"strings"
	"unicode"
)

// Kind classifies a final ASR utterance.
type Kind int

const (
	KindUnmatched Kind = iota
	KindStop
	KindRefresh
	KindRandom
	KindWhitelist
	KindPlay
)

func (k Kind) String() string {
	switch k {
	case KindStop:
		return "stop"
	case KindRefresh:
		return "refresh"
	case KindRandom:
		return "random"
	case KindWhitelist:
		return "whitelist"
	case KindPlay:
		return "play"
	default:
		return "unmatched"
	}
}

// Intent is a classified utterance. Keyword carries the search term for
// KindPlay and the matched entry for KindWhitelist; it is empty otherwise.
type Intent struct {
	Kind    Kind
	Keyword string
}

// Keywords holds the configured utterance sets, raw as configured.
type Keywords struct {
	Play      []string
	Stop      []string
	Refresh   []string
	Random    []string
	Whitelist []string
}

// trailing punctuation stripped by Normalize, full-width and ASCII.
const trailingPunct = "：:，,。！？!?"

// Normalize trims surrounding whitespace and trailing punctuation.
func Normalize(text string) string {
	return strings.TrimRight(strings.TrimSpace(text), trailingPunct)
}

// NormalizeCompact normalizes and removes every space rune, including
// full-width U+3000.
func NormalizeCompact(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, Normalize(text))
}

// Parser classifies final ASR text against pre-normalized keyword sets.
// It is a pure value, safe for concurrent use.
type Parser struct {
	playPrefixes []string
	stopSet      map[string]struct{}
	refreshSet   map[string]struct{}
	randomSet    map[string]struct{}
	whitelist    []string
}

func NewParser(kw Keywords) *Parser {
	return &Parser{
		playPrefixes: compactAll(kw.Play),
		stopSet:      compactSet(kw.Stop),
		refreshSet:   compactSet(kw.Refresh),
		randomSet:    compactSet(kw.Random),
		whitelist:    compactAll(kw.Whitelist),
	}
}

// Classify matches in order: stop, refresh, random (exact on the compact
// form), whitelist (exact or containment), play prefix on the raw text.
// The first matching play prefix decides; an empty remainder after
// normalization yields no play intent.
func (p *Parser) Classify(text string) Intent {
	compact := NormalizeCompact(text)
	if compact == "" {
		return Intent{Kind: KindUnmatched}
	}
	if _, ok := p.stopSet[compact]; ok {
		return Intent{Kind: KindStop}
	}
	if _, ok := p.refreshSet[compact]; ok {
		return Intent{Kind: KindRefresh}
	}
	if _, ok := p.randomSet[compact]; ok {
		return Intent{Kind: KindRandom}
	}
	for _, w := range p.whitelist {
		if strings.Contains(compact, w) {
			return Intent{Kind: KindWhitelist, Keyword: w}
		}
	}
	for _, prefix := range p.playPrefixes {
		if !strings.HasPrefix(text, prefix) {
			continue
		}
		if keyword := Normalize(text[len(prefix):]); keyword != "" {
			return Intent{Kind: KindPlay, Keyword: keyword}
		}
		break
	}
	return Intent{Kind: KindUnmatched}
}

func compactAll(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if compact := NormalizeCompact(kw); compact != "" {
			out = append(out, compact)
		}
	}
	return out
}

func compactSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if compact := NormalizeCompact(kw); compact != "" {
			set[compact] = struct{}{}
		}
	}
	return set
}
