// Package protocol defines the messages exchanged with a streaming client and
// the ordered output path that writes them.
//
// The client sends compressed audio as binary websocket messages. The server
// answers with JSON control messages and raw PCM binary frames. PCM frames
// always appear between an audio_start and its audio_end.
package protocol

import "github.com/MrWong99/voxdesk/pkg/audio"

// Message types.
const (
	TypeUserText   = "user_text"
	TypeClarify    = "clarify"
	TypeAnswer     = "answer"
	TypeAudioStart = "audio_start"
	TypeAudioEnd   = "audio_end"
	TypeVideoURL   = "video_url"
	TypeError      = "error"
)

// ErrorConversionFailed is the error message sent when accumulated audio
// cannot be decoded.
const ErrorConversionFailed = "conversion_failed"

// TextMessage carries a transcript (user_text) or a clarification request
// (clarify).
type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AnswerMessage carries the generated reply and its expression.
type AnswerMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Emotion string `json:"emotion"`
	Gesture string `json:"gesture"`
}

// AudioStartMessage announces the PCM layout of the binary frames that follow.
type AudioStartMessage struct {
	Type        string `json:"type"`
	SampleRate  int    `json:"sampleRate"`
	Channels    int    `json:"channels"`
	SampleWidth int    `json:"sampleWidth"`
	Emotion     string `json:"emotion,omitempty"`
	Gesture     string `json:"gesture,omitempty"`
}

// AudioEndMessage terminates a PCM stream.
type AudioEndMessage struct {
	Type string `json:"type"`
}

// VideoURLMessage points the client to a rendered avatar video.
type VideoURLMessage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ErrorMessage reports a non-fatal failure of the current turn.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func UserText(text string) TextMessage { return TextMessage{Type: TypeUserText, Text: text} }

func Clarify(text string) TextMessage { return TextMessage{Type: TypeClarify, Text: text} }

func Answer(text, emotion, gesture string) AnswerMessage {
	return AnswerMessage{Type: TypeAnswer, Text: text, Emotion: emotion, Gesture: gesture}
}

func AudioStart(f audio.Format, emotion, gesture string) AudioStartMessage {
	return AudioStartMessage{
		Type:        TypeAudioStart,
		SampleRate:  f.SampleRate,
		Channels:    f.Channels,
		SampleWidth: f.SampleWidth,
		Emotion:     emotion,
		Gesture:     gesture,
	}
}

func AudioEnd() AudioEndMessage { return AudioEndMessage{Type: TypeAudioEnd} }

func VideoURL(url string) VideoURLMessage { return VideoURLMessage{Type: TypeVideoURL, URL: url} }

func Error(message string) ErrorMessage { return ErrorMessage{Type: TypeError, Message: message} }
