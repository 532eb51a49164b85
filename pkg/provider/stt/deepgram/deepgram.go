// Package deepgram provides a Deepgram-backed STT provider. Each utterance is
// sent over its own connection to the Deepgram live WebSocket API, followed by
// a CloseStream message; the provider then collects every final result until
// Deepgram closes the stream.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxdesk/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "ru"

	// sendChunk is the size of each binary message; 100 ms at 16 kHz mono.
	sendChunk = 3200
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code used when a request has none.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams req.PCM to Deepgram and joins the final results. The
// returned confidence is the mean confidence of the non-empty final segments.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if len(req.PCM) == 0 {
		return stt.Transcript{Provider: "deepgram"}, nil
	}

	wsURL, err := p.buildURL(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- sendAudio(ctx, conn, req.PCM)
	}()

	var (
		parts   []string
		sumConf float64
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if len(parts) > 0 && ctx.Err() == nil {
				// Deepgram may drop the connection right after the last
				// result; what was received is still valid.
				break
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}
		r, kind := parseDeepgramResponse(msg)
		if kind == messageMetadata {
			break
		}
		if kind != messageFinal || r.text == "" {
			continue
		}
		parts = append(parts, r.text)
		sumConf += r.confidence
	}

	if err := <-writeErr; err != nil && len(parts) == 0 {
		return stt.Transcript{}, err
	}
	conn.Close(websocket.StatusNormalClosure, "utterance complete")

	t := stt.Transcript{Text: strings.Join(parts, " "), Provider: "deepgram"}
	if len(parts) > 0 {
		t.Confidence = stt.Confidence(sumConf / float64(len(parts)))
	}
	return t, nil
}

// sendAudio writes pcm in fixed-size binary messages and then asks Deepgram
// to flush and close the stream.
func sendAudio(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += sendChunk {
		end := min(off+sendChunk, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: write CloseStream: %w", err)
	}
	return nil
}

// buildURL constructs the Deepgram streaming endpoint URL for req.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	f := req.AudioFormat()

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(f.SampleRate))
	q.Set("channels", strconv.Itoa(f.Channels))

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- responses ----

type messageKind int

const (
	messageIgnored messageKind = iota
	messageInterim
	messageFinal
	messageMetadata
)

// deepgramResponse is the JSON structure of a Deepgram live API message.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	text       string
	confidence float64
}

// parseDeepgramResponse classifies a raw Deepgram message and extracts the
// top alternative of Results messages.
func parseDeepgramResponse(data []byte) (result, messageKind) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, messageIgnored
	}
	switch resp.Type {
	case "Metadata":
		return result{}, messageMetadata
	case "Results":
	default:
		return result{}, messageIgnored
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, messageIgnored
	}

	alt := resp.Channel.Alternatives[0]
	r := result{text: strings.TrimSpace(alt.Transcript), confidence: alt.Confidence}
	if !resp.IsFinal {
		return r, messageInterim
	}
	return r, messageFinal
}
