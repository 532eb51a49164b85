package transcript_test

import (
	"testing"

	"github.com/MrWong99/voxdesk/internal/transcript"
)

func TestFilter_Clean(t *testing.T) {
	t.Parallel()

	f := transcript.NewFilter()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"request kept", "  Где находится переговорная?  ", "Где находится переговорная?"},
		{"kazakh kept", "Сәлеметсіз бе, мен Айгүлмін", "Сәлеметсіз бе, мен Айгүлмін"},
		{"english kept", "I have a meeting with Anna", "I have a meeting with Anna"},
		{"empty", "", ""},
		{"too short", "ок", ""},
		{"punctuation only", "...", ""},
		{"subtitle credit", "Субтитры сделал DimaTorzok", ""},
		{"video outro", "Спасибо за просмотр!", ""},
		{"music notes", "♪ ♪ ♪", ""},
		{"to be continued", "Продолжение следует...", ""},
		{"generic filler", "Хорошо.", ""},
		{"filler with typo", "Понимаюю", ""},
		{"thank you outro", "Thank you.", ""},
		{"filler inside a request kept", "Хорошо, а где лифт?", "Хорошо, а где лифт?"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := f.Clean(tc.in); got != tc.want {
				t.Errorf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
			}
			if got := f.Rejected(tc.in); got != (tc.want == "") {
				t.Errorf("Rejected(%q) = %v", tc.in, got)
			}
		})
	}
}

func TestFilter_Options(t *testing.T) {
	t.Parallel()

	f := transcript.NewFilter(
		transcript.WithMinRunes(1),
		transcript.WithMarkers("Реклама"),
		transcript.WithPhrases(),
		transcript.WithSimilarityCutoff(0.99),
	)
	if got := f.Clean("ок"); got != "ок" {
		t.Errorf("Clean(ок) = %q, want kept with min runes 1", got)
	}
	if got := f.Clean("Хорошо"); got != "Хорошо" {
		t.Errorf("Clean(Хорошо) = %q, want kept without phrases", got)
	}
	if got := f.Clean("Здесь могла быть ваша РЕКЛАМА"); got != "" {
		t.Errorf("custom marker not applied: %q", got)
	}
}
