// Package transcript cleans speech-recognition output before it reaches the
// rest of the pipeline.
//
// Whisper-family models hallucinate on silence and background noise: they
// produce caption credits, channel outros or a single generic word. [Filter]
// recognises those transcripts so the transcription chain can treat them as
// "no speech" and move on.
package transcript

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Default tuning of [Filter].
const (
	DefaultMinRunes         = 3
	DefaultSimilarityCutoff = 0.92
)

// DefaultMarkers are fragments that never occur in a real visitor's request
// but are typical of subtitle and video-outro hallucinations. A transcript
// containing one of them is rejected.
var DefaultMarkers = []string{
	"субтитр",
	"dimatorzok",
	"спасибо за просмотр",
	"подпишитесь на канал",
	"ставьте лайк",
	"с вами был",
	"продолжение следует",
	"thanks for watching",
	"subscribe to",
	"♪",
	"♫",
}

// DefaultPhrases are complete transcripts that Whisper emits for noise. A
// transcript is rejected when, as a whole, it is similar to one of them.
var DefaultPhrases = []string{
	"понимаю",
	"хорошо",
	"музыка",
	"music",
	"продолжение",
	"you",
	"thank you",
}

// Filter rejects transcripts that are too short or look like a known
// hallucination. The zero value is not usable; build one with [NewFilter].
// A Filter is read-only after construction and safe for concurrent use.
type Filter struct {
	minRunes int
	cutoff   float64
	markers  []string
	phrases  []string
}

// Option configures a [Filter].
type Option func(*Filter)

// WithMinRunes sets the minimum transcript length in runes, not counting
// surrounding space.
func WithMinRunes(n int) Option {
	return func(f *Filter) { f.minRunes = n }
}

// WithSimilarityCutoff sets the Jaro-Winkler similarity at or above which a
// transcript counts as one of the known phrases.
func WithSimilarityCutoff(c float64) Option {
	return func(f *Filter) { f.cutoff = c }
}

// WithMarkers replaces [DefaultMarkers].
func WithMarkers(markers ...string) Option {
	return func(f *Filter) { f.markers = markers }
}

// WithPhrases replaces [DefaultPhrases].
func WithPhrases(phrases ...string) Option {
	return func(f *Filter) { f.phrases = phrases }
}

// NewFilter creates a [Filter] with the default lists and thresholds.
func NewFilter(opts ...Option) *Filter {
	f := &Filter{
		minRunes: DefaultMinRunes,
		cutoff:   DefaultSimilarityCutoff,
		markers:  DefaultMarkers,
		phrases:  DefaultPhrases,
	}
	for _, o := range opts {
		o(f)
	}
	f.markers = normalizeAll(f.markers)
	f.phrases = normalizeAll(f.phrases)
	return f
}

// Clean returns text trimmed of surrounding space, or "" when the text is a
// hallucination or too short to be a request.
func (f *Filter) Clean(text string) string {
	text = strings.TrimSpace(text)
	if reason := f.reject(text); reason != "" {
		if text != "" {
			slog.Debug("transcript rejected", "text", text, "reason", reason)
		}
		return ""
	}
	return text
}

// Rejected reports whether Clean would discard text.
func (f *Filter) Rejected(text string) bool {
	return f.reject(strings.TrimSpace(text)) != ""
}

func (f *Filter) reject(text string) string {
	if len([]rune(text)) < f.minRunes {
		return "too short"
	}
	norm := normalize(text)
	if norm == "" {
		return "no words"
	}
	for _, m := range f.markers {
		if m != "" && strings.Contains(norm, m) {
			return "marker " + m
		}
	}
	for _, p := range f.phrases {
		if norm == p || matchr.JaroWinkler(norm, p, false) >= f.cutoff {
			return "phrase " + p
		}
	}
	return ""
}

// normalize lower-cases s, drops punctuation and collapses whitespace. Music
// note symbols are kept so they can be matched as markers.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '♪' || r == '♫':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}
