// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openai adapts OpenAI's chat, image, and speech APIs for the media
// router. Streaming uses the "data: {...}" / "[DONE]" SSE dialect.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"axonflow/conduit/orchestrator/catalog"
	"axonflow/conduit/orchestrator/media"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultImageModel is used when an image request names no model.
	DefaultImageModel = "dall-e-3"

	// DefaultSpeechModel is used when a speech request names no model.
	DefaultSpeechModel = "tts-1"

	// DefaultVoice is the fallback text-to-speech voice.
	DefaultVoice = "alloy"
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter implements the media adapter for OpenAI.
type Adapter struct {
	client HTTPClient
}

// Option configures the adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the HTTP client (used by tests).
func WithHTTPClient(c HTTPClient) Option {
	return func(a *Adapter) {
		if c != nil {
			a.client = c
		}
	}
}

// New creates an OpenAI adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{client: &http.Client{Timeout: 120 * time.Second}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ media.StreamingAdapter = (*Adapter)(nil)

// ProviderID implements media.Adapter.
func (a *Adapter) ProviderID() string { return "openai" }

// SupportedWorkers implements media.Adapter.
func (a *Adapter) SupportedWorkers() []string {
	return []string{catalog.WorkerTextGen, catalog.WorkerImageGen, catalog.WorkerAudioGen}
}

// Execute implements media.Adapter, dispatching on the worker.
func (a *Adapter) Execute(ctx context.Context, req media.AdapterRequest) (*media.MediaResult, error) {
	switch req.Worker {
	case catalog.WorkerTextGen:
		return a.chat(ctx, req)
	case catalog.WorkerImageGen:
		return a.image(ctx, req)
	case catalog.WorkerAudioGen:
		return a.speech(ctx, req)
	default:
		return nil, media.ErrWorkerUnsupported(a.ProviderID(), req.Worker)
	}
}

// CheckHealth implements media.Adapter using the models listing endpoint.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, DefaultBaseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("openai API error: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return media.AdapterHTTPError(a.ProviderID(), resp.StatusCode, body)
	}
	return nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *Adapter) chat(ctx context.Context, req media.AdapterRequest) (*media.MediaResult, error) {
	resp, err := a.sendChat(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, media.AdapterHTTPError(a.ProviderID(), resp.StatusCode, body)
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &media.MediaResult{
		Text:       apiResp.Choices[0].Message.Content,
		TokensUsed: apiResp.Usage.TotalTokens,
	}, nil
}

// streamChunk is one "data:" payload in the streaming chat dialect.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// ExecuteStream implements media.StreamingAdapter for text generation.
func (a *Adapter) ExecuteStream(ctx context.Context, req media.AdapterRequest) (<-chan media.StreamDelta, error) {
	if req.Worker != catalog.WorkerTextGen {
		return nil, media.ErrWorkerUnsupported(a.ProviderID(), req.Worker)
	}

	resp, err := a.sendChat(ctx, req, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, media.AdapterHTTPError(a.ProviderID(), resp.StatusCode, body)
	}

	deltas := make(chan media.StreamDelta)
	go func() {
		defer close(deltas)
		defer func() {
			_ = resp.Body.Close()
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				select {
				case deltas <- media.StreamDelta{Done: true, RequestID: req.RequestID}:
				case <-ctx.Done():
				}
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue // skip malformed chunks
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case deltas <- media.StreamDelta{Text: chunk.Choices[0].Delta.Content, RequestID: req.RequestID}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return deltas, nil
}

func (a *Adapter) sendChat(ctx context.Context, req media.AdapterRequest, stream bool) (*http.Response, error) {
	apiReq := chatRequest{
		Model:     req.Model,
		MaxTokens: req.Options.MaxTokens,
		Stream:    stream,
	}
	if req.SystemPrompt != "" {
		apiReq.Messages = append(apiReq.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	apiReq.Messages = append(apiReq.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.Options.Temperature > 0 {
		apiReq.Temperature = &req.Options.Temperature
	}
	if req.Options.TopP > 0 {
		apiReq.TopP = &req.Options.TopP
	}
	if len(req.Options.StopSequences) > 0 {
		apiReq.Stop = req.Options.StopSequences
	}

	return a.post(ctx, req, "/v1/chat/completions", apiReq)
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	Style          string `json:"style,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (a *Adapter) image(ctx context.Context, req media.AdapterRequest) (*media.MediaResult, error) {
	model := req.Model
	if model == "" {
		model = DefaultImageModel
	}
	apiReq := imageRequest{
		Model:  model,
		Prompt: req.Prompt,
		N:      1,
		Size:   imageSize(req.Options.Width, req.Options.Height),
	}
	if req.Options.Style != "" {
		apiReq.Style = req.Options.Style
	}

	resp, err := a.post(ctx, req, "/v1/images/generations", apiReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, media.AdapterHTTPError(a.ProviderID(), resp.StatusCode, body)
	}

	var apiResp imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no image data")
	}

	return &media.MediaResult{
		URL:    apiResp.Data[0].URL,
		Base64: apiResp.Data[0].B64JSON,
		Width:  req.Options.Width,
		Height: req.Options.Height,
	}, nil
}

// imageSize maps requested dimensions onto the sizes dall-e-3 accepts.
func imageSize(width, height int) string {
	switch {
	case width == 0 && height == 0:
		return "1024x1024"
	case width > height:
		return "1792x1024"
	case height > width:
		return "1024x1792"
	default:
		return "1024x1024"
	}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

func (a *Adapter) speech(ctx context.Context, req media.AdapterRequest) (*media.MediaResult, error) {
	model := req.Model
	if model == "" {
		model = DefaultSpeechModel
	}
	voice := req.Options.VoiceID
	if voice == "" {
		voice = DefaultVoice
	}
	apiReq := speechRequest{
		Model:          model,
		Input:          req.Prompt,
		Voice:          voice,
		ResponseFormat: req.Options.OutputFormat,
	}
	if req.Options.Speed > 0 {
		apiReq.Speed = req.Options.Speed
	}

	resp, err := a.post(ctx, req, "/v1/audio/speech", apiReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, media.AdapterHTTPError(a.ProviderID(), resp.StatusCode, body)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio body: %w", err)
	}
	return &media.MediaResult{Base64: base64.StdEncoding.EncodeToString(audio)}, nil
}

func (a *Adapter) post(ctx context.Context, req media.AdapterRequest, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	base := req.Gateway.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if req.Gateway.Token != "" {
		httpReq.Header.Set(media.GatewayAuthHeader, "Bearer "+req.Gateway.Token)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}
	return resp, nil
}
