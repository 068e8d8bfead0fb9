// Package elevenlabs renders speech with the ElevenLabs HTTP API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatcast/chatcast/internal/speech"
	"github.com/chatcast/chatcast/internal/ttypes"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.elevenlabs.io/v1"

	// DefaultModel is the multilingual model.
	DefaultModel = "eleven_multilingual_v2"

	maxTextSize  = 5000
	maxAudioSize = 20 * 1024 * 1024

	// The API accepts speeds in this range only.
	MinSpeed = 0.7
	MaxSpeed = 1.2
)

// SampleRates are the raw PCM formats the API can return.
var SampleRates = []int{16000, 22050, 24000, 44100}

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("elevenlabs: API key is required")

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// SampleRate selects the pcm_<rate> output format.
	SampleRate int

	Stability       float64
	SimilarityBoost float64

	// RequestsPerMinute throttles synthesis calls.
	RequestsPerMinute int

	// Timeout bounds one request.
	Timeout time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// DefaultConfig returns the default settings without an API key.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Model:             DefaultModel,
		SampleRate:        22050,
		Stability:         0.5,
		SimilarityBoost:   0.75,
		RequestsPerMinute: 120,
		Timeout:           30 * time.Second,
	}
}

// Synthesizer calls the text-to-speech endpoint once per utterance.
type Synthesizer struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

// New validates cfg, filling gaps from DefaultConfig.
func New(cfg Config) (*Synthesizer, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if !validRate(cfg.SampleRate) {
		return nil, fmt.Errorf("elevenlabs: unsupported sample rate %d", cfg.SampleRate)
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Synthesizer{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
	}, nil
}

func validRate(r int) bool {
	for _, v := range SampleRates {
		if v == r {
			return true
		}
	}
	return false
}

// Name implements pcm.Synthesizer.
func (s *Synthesizer) Name() string { return "elevenlabs" }

// SampleRate is the rate of the PCM the synthesizer returns.
func (s *Synthesizer) SampleRate() int { return s.cfg.SampleRate }

type voicesResponse struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// Voices fetches the account's voices.
func (s *Synthesizer) Voices(ctx context.Context) ([]ttypes.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching voices: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching voices: %w", apiError(resp))
	}

	var body voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding voices: %w", err)
	}

	voices := make([]ttypes.Voice, 0, len(body.Voices))
	for i, v := range body.Voices {
		voices = append(voices, ttypes.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Language: v.Labels["language"],
			Default:  i == 0,
		})
	}
	return voices, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize implements pcm.Synthesizer. Pitch is not supported by the API.
func (s *Synthesizer) Synthesize(ctx context.Context, u speech.Utterance) ([]byte, error) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}
	if len(text) > maxTextSize {
		return nil, fmt.Errorf("text too long: %d characters (max %d)", len(text), maxTextSize)
	}
	if u.VoiceID == "" {
		return nil, errors.New("voice id is required")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	payload, err := json.Marshal(speechRequest{
		Text:    text,
		ModelID: s.cfg.Model,
		VoiceSettings: voiceSettings{
			Stability:       s.cfg.Stability,
			SimilarityBoost: s.cfg.SimilarityBoost,
			Speed:           speed(u.Rate),
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=pcm_%d",
		s.cfg.BaseURL, url.PathEscape(u.VoiceID), s.cfg.SampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("text-to-speech request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("text-to-speech: %w", apiError(resp))
	}

	pcm, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	switch {
	case len(pcm) == 0:
		return nil, errors.New("elevenlabs returned no audio")
	case len(pcm) > maxAudioSize:
		return nil, fmt.Errorf("elevenlabs output too large (max %d bytes)", maxAudioSize)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return pcm, nil
}

// speed maps a delivery rate onto the API's narrower range. Neutral rate
// is left to the voice default.
func speed(r float64) float64 {
	if r <= 0 || r == ttypes.DefaultDelivery {
		return 0
	}
	return ttypes.Clamp(r, MinSpeed, MaxSpeed)
}

// APIError is a non-200 response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("elevenlabs: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("elevenlabs: %d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

func apiError(resp *http.Response) error {
	e := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var detail struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil && len(detail.Detail) > 0 {
		var structured struct {
			Message string `json:"message"`
		}
		var plain string
		switch {
		case json.Unmarshal(detail.Detail, &structured) == nil && structured.Message != "":
			e.Message = structured.Message
		case json.Unmarshal(detail.Detail, &plain) == nil:
			e.Message = plain
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}
