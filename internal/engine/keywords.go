package engine

import (
	"regexp"
	"strings"
)

type emotionRule struct {
	emotion  Emotion
	keywords []string
}

type gestureRule struct {
	gesture  Gesture
	keywords []string
}

// Rules are checked in order and the first rule with a keyword contained in
// the lower-cased text wins. Keywords are stems, so "подожд" matches both
// "подождите" and "подождать".
var emotionRules = []emotionRule{
	{EmotionHappy, []string{"привет", "здравствуйте", "рад", "добро пожаловать", "приятно"}},
	{EmotionSad, []string{"извините", "прошу прощения", "к сожалению", "жаль"}},
	{EmotionThinking, []string{"подожд", "минут", "секунд", "сейчас", "проверю"}},
	{EmotionSurprised, []string{"удивлен", "неожиданно", "действительно", "правда"}},
}

var gestureRules = []gestureRule{
	{GestureWave, []string{"привет", "здравствуйте", "добро пожаловать"}},
	{GesturePoint, []string{"направо", "налево", "туда", "сюда", "там"}},
}

// DetectEmotion derives an emotion from reply text with the keyword table.
// It is deterministic and defaults to [EmotionNeutral].
func DetectEmotion(text string) Emotion {
	lower := strings.ToLower(text)
	for _, r := range emotionRules {
		if containsAny(lower, r.keywords) {
			return r.emotion
		}
	}
	return EmotionNeutral
}

// DetectGesture derives a gesture from reply text with the keyword table.
// It is deterministic and defaults to [GestureNone].
func DetectGesture(text string) Gesture {
	lower := strings.ToLower(text)
	for _, r := range gestureRules {
		if containsAny(lower, r.keywords) {
			return r.gesture
		}
	}
	return GestureNone
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var tagPattern = regexp.MustCompile(`(?i)\[(emotion|gesture)\s*:\s*([^\]]*)\]`)

// ParseTags extracts inline "[emotion:x]" and "[gesture:y]" tags from
// model output. It returns the text with every tag removed and the tag values
// that name a valid emotion or gesture; a missing or unknown tag leaves the
// corresponding ok flag false.
func ParseTags(content string) (text string, emotion Emotion, emotionOK bool, gesture Gesture, gestureOK bool) {
	emotion, gesture = EmotionNeutral, GestureNone
	for _, m := range tagPattern.FindAllStringSubmatch(content, -1) {
		switch strings.ToLower(m[1]) {
		case "emotion":
			if e, ok := ParseEmotion(m[2]); ok && !emotionOK {
				emotion, emotionOK = e, true
			}
		case "gesture":
			if g, ok := ParseGesture(m[2]); ok && !gestureOK {
				gesture, gestureOK = g, true
			}
		}
	}
	text = strings.Join(strings.Fields(tagPattern.ReplaceAllString(content, " ")), " ")
	return text, emotion, emotionOK, gesture, gestureOK
}
