// Package openai narrates dispatch events and synthesizes speech with the
// OpenAI Responses and Audio APIs, optionally through an AI gateway.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/linnemanlabs/prealert/internal/faults"
	"github.com/linnemanlabs/prealert/internal/narration"
)

const (
	serviceName = "openai"

	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultTextModel   = "gpt-4.1-nano"
	DefaultSpeechModel = "gpt-4o-mini-tts"
	DefaultVoice       = "nova"

	// cap on synthesized audio we are willing to buffer
	maxAudioBytes  = 16 << 20
	requestTimeout = 120 * time.Second
)

// Config configures a Client. Zero values fall back to the defaults above.
type Config struct {
	APIKey  string
	BaseURL string

	// GatewayToken is sent as cf-aig-authorization when calls are routed
	// through a Cloudflare AI Gateway BaseURL.
	GatewayToken string

	TextModel   string
	SpeechModel string
	Voice       string

	// SpeechInstructions defaults to narration.SpeechInstructions.
	SpeechInstructions string
}

// Client implements workflow.Narrator and workflow.Synthesizer.
type Client struct {
	cfg      Config
	client   openai.Client
	maxAudio int64
}

// New creates a new OpenAI client. The SDK's own retries are disabled; the
// workflow engine owns retry policy.
func New(cfg Config, opts ...option.RequestOption) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = DefaultSpeechModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.SpeechInstructions == "" {
		cfg.SpeechInstructions = narration.SpeechInstructions
	}

	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL + "/"),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(requestTimeout),
	}
	if cfg.GatewayToken != "" {
		base = append(base, option.WithHeader("cf-aig-authorization", "Bearer "+cfg.GatewayToken))
	}
	return &Client{
		cfg:      cfg,
		client:   openai.NewClient(append(base, opts...)...),
		maxAudio: maxAudioBytes,
	}
}

// Model returns the text model name.
func (c *Client) Model() string { return c.cfg.TextModel }

func (c *Client) responseParams(req *narration.Request) responses.ResponseNewParams {
	p := responses.ResponseNewParams{
		Model: shared.ResponsesModel(c.cfg.TextModel),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(req.Input)},
	}
	if req.Instructions != "" {
		p.Instructions = openai.String(req.Instructions)
	}
	return p
}

func (c *Client) speechParams(text string) openai.AudioSpeechNewParams {
	return openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(c.cfg.SpeechModel),
		Voice:          openai.AudioSpeechNewParamsVoice(c.cfg.Voice),
		Input:          text,
		Instructions:   openai.String(c.cfg.SpeechInstructions),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	}
}

// Narrate sends req to the Responses API and returns the output text.
func (c *Client) Narrate(ctx context.Context, req *narration.Request) (string, error) {
	resp, err := c.client.Responses.New(ctx, c.responseParams(req))
	if err != nil {
		return "", classify("responses", err)
	}
	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", faults.Transient(serviceName, 0, errors.New("empty narration in response"))
	}
	return text, nil
}

// Synthesize converts text to MP3 audio.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, faults.Validation("narration", "empty text")
	}

	resp, err := c.client.Audio.Speech.New(ctx, c.speechParams(text))
	if err != nil {
		return nil, classify("audio/speech", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// one byte past the cap tells a full body from a truncated one
	audio, err := io.ReadAll(io.LimitReader(resp.Body, c.maxAudio+1))
	if err != nil {
		return nil, faults.Transient(serviceName, resp.StatusCode, fmt.Errorf("read audio: %w", err))
	}
	if int64(len(audio)) > c.maxAudio {
		return nil, faults.Validation("audio", "response exceeds %d bytes", c.maxAudio)
	}
	if len(audio) == 0 {
		return nil, faults.Transient(serviceName, 0, errors.New("empty audio in response"))
	}
	return audio, nil
}

func classify(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return faults.FromStatus(serviceName, apiErr.StatusCode, fmt.Errorf("%s: %w", op, err))
	}
	return faults.Transient(serviceName, 0, fmt.Errorf("%s: %w", op, err))
}
