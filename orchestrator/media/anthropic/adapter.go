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

// Package anthropic adapts Anthropic's Messages API for the media router.
// It supports both one-shot and SSE streaming text generation.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
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
	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version.
	DefaultAPIVersion = "2023-06-01"

	// DefaultMaxTokens is the default max tokens for completions.
	DefaultMaxTokens = 4096
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter implements the media adapter for Anthropic.
type Adapter struct {
	apiVersion string
	client     HTTPClient
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

// New creates an Anthropic adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		apiVersion: DefaultAPIVersion,
		client:     &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ media.StreamingAdapter = (*Adapter)(nil)

// ProviderID implements media.Adapter.
func (a *Adapter) ProviderID() string { return "anthropic" }

// SupportedWorkers implements media.Adapter.
func (a *Adapter) SupportedWorkers() []string {
	return []string{catalog.WorkerTextGen}
}

type messagesRequest struct {
	Model         string    `json:"model"`
	MaxTokens     int       `json:"max_tokens"`
	Messages      []message `json:"messages"`
	System        string    `json:"system,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	TopP          *float64  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// streamEvent is one typed SSE event from the Messages API.
type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

// Execute implements media.Adapter.
func (a *Adapter) Execute(ctx context.Context, req media.AdapterRequest) (*media.MediaResult, error) {
	if req.Worker != catalog.WorkerTextGen {
		return nil, media.ErrWorkerUnsupported(a.ProviderID(), req.Worker)
	}

	resp, err := a.send(ctx, req, false)
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

	var apiResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var content strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &media.MediaResult{
		Text:       content.String(),
		TokensUsed: apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
	}, nil
}

// ExecuteStream implements media.StreamingAdapter. The returned channel is
// fed by a goroutine that translates typed SSE events into deltas and closes
// after the terminal one.
func (a *Adapter) ExecuteStream(ctx context.Context, req media.AdapterRequest) (<-chan media.StreamDelta, error) {
	if req.Worker != catalog.WorkerTextGen {
		return nil, media.ErrWorkerUnsupported(a.ProviderID(), req.Worker)
	}

	resp, err := a.send(ctx, req, true)
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

			var event streamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue // skip malformed events
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Type == "text_delta" {
					select {
					case deltas <- media.StreamDelta{Text: event.Delta.Text, RequestID: req.RequestID}:
					case <-ctx.Done():
						return
					}
				}
			case "message_stop":
				select {
				case deltas <- media.StreamDelta{Done: true, RequestID: req.RequestID}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return deltas, nil
}

// CheckHealth implements media.Adapter with a minimal one-token completion.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	probe := media.AdapterRequest{
		Worker:  catalog.WorkerTextGen,
		Prompt:  "ping",
		Model:   "claude-3-5-haiku-20241022",
		Options: media.MediaOptions{MaxTokens: 1},
		Timeout: 10 * time.Second,
	}
	_, err := a.Execute(ctx, probe)
	return err
}

func (a *Adapter) send(ctx context.Context, req media.AdapterRequest, stream bool) (*http.Response, error) {
	apiReq := messagesRequest{
		Model:     req.Model,
		MaxTokens: req.Options.MaxTokens,
		Messages:  []message{{Role: "user", Content: req.Prompt}},
		System:    req.SystemPrompt,
		Stream:    stream,
	}
	if apiReq.MaxTokens <= 0 {
		apiReq.MaxTokens = DefaultMaxTokens
	}
	if req.Options.Temperature > 0 {
		apiReq.Temperature = &req.Options.Temperature
	}
	if req.Options.TopP > 0 {
		apiReq.TopP = &req.Options.TopP
	}
	if len(req.Options.StopSequences) > 0 {
		apiReq.StopSequences = req.Options.StopSequences
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	base := req.Gateway.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/messages", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", a.apiVersion)
	if req.Gateway.Token != "" {
		httpReq.Header.Set(media.GatewayAuthHeader, "Bearer "+req.Gateway.Token)
	} else {
		httpReq.Header.Set("x-api-key", req.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	return resp, nil
}
