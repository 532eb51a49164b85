// Package engine turns a recognised request into the assistant's reply.
//
// It holds the reply model ([Reply] with its [Emotion] and [Gesture]), the
// confidence [Gate] applied to transcripts, and the [Generator] that asks a
// language model for a structured reply and degrades to a plain completion
// with keyword-derived expression when structured output is unavailable.
package engine

import (
	"context"
	"strings"
)

// Emotion is the facial expression the avatar should show with a reply.
type Emotion string

const (
	EmotionHappy     Emotion = "happy"
	EmotionSad       Emotion = "sad"
	EmotionThinking  Emotion = "thinking"
	EmotionSurprised Emotion = "surprised"
	EmotionNeutral   Emotion = "neutral"
)

// Emotions lists every valid emotion.
var Emotions = []Emotion{EmotionHappy, EmotionSad, EmotionThinking, EmotionSurprised, EmotionNeutral}

// ParseEmotion maps s, case-insensitively, to an [Emotion].
func ParseEmotion(s string) (Emotion, bool) {
	e := Emotion(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Emotions {
		if e == v {
			return e, true
		}
	}
	return EmotionNeutral, false
}

// Gesture is the body gesture the avatar should perform with a reply.
type Gesture string

const (
	GestureWave  Gesture = "wave"
	GesturePoint Gesture = "point"
	GestureNone  Gesture = "none"
)

// Gestures lists every valid gesture.
var Gestures = []Gesture{GestureWave, GesturePoint, GestureNone}

// ParseGesture maps s, case-insensitively, to a [Gesture].
func ParseGesture(s string) (Gesture, bool) {
	g := Gesture(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Gestures {
		if g == v {
			return g, true
		}
	}
	return GestureNone, false
}

// Reply is the assistant's answer to one utterance.
type Reply struct {
	Text    string
	Emotion Emotion
	Gesture Gesture
}

// Responder produces the reply to a transcribed request. [Generator] is the
// production implementation.
type Responder interface {
	// Generate returns the reply for text. It returns an error only when ctx
	// is done; backend failures degrade to a fallback reply.
	Generate(ctx context.Context, text string) (Reply, error)
}
