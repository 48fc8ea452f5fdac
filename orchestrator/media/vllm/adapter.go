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

// Package vllm adapts a local vLLM server for the media router. The server
// speaks the OpenAI-compatible chat dialect but needs no authentication; a
// base endpoint on the provider row is mandatory.
package vllm

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

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter implements the media adapter for a local vLLM endpoint.
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

// New creates a vLLM adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{client: &http.Client{Timeout: 300 * time.Second}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ media.StreamingAdapter = (*Adapter)(nil)

// ProviderID implements media.Adapter.
func (a *Adapter) ProviderID() string { return "vllm" }

// SupportedWorkers implements media.Adapter.
func (a *Adapter) SupportedWorkers() []string {
	return []string{catalog.WorkerTextGen}
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
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Execute implements media.Adapter.
func (a *Adapter) Execute(ctx context.Context, req media.AdapterRequest) (*media.MediaResult, error) {
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

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("vllm returned no choices")
	}

	return &media.MediaResult{
		Text:       apiResp.Choices[0].Message.Content,
		TokensUsed: apiResp.Usage.TotalTokens,
	}, nil
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// ExecuteStream implements media.StreamingAdapter.
func (a *Adapter) ExecuteStream(ctx context.Context, req media.AdapterRequest) (<-chan media.StreamDelta, error) {
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
				continue
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

func (a *Adapter) send(ctx context.Context, req media.AdapterRequest, stream bool) (*http.Response, error) {
	if req.Worker != catalog.WorkerTextGen {
		return nil, media.ErrWorkerUnsupported(a.ProviderID(), req.Worker)
	}
	if req.Gateway.BaseURL == "" {
		return nil, fmt.Errorf("vllm base URL is required")
	}

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

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(req.Gateway.BaseURL, "/")+"/v1/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("vllm API error: %w", err)
	}
	return resp, nil
}

// CheckHealth implements media.Adapter. A configured vLLM server exposes
// /health; this adapter cannot probe without a base URL, so it reports
// healthy and lets routing surface connection errors.
func (a *Adapter) CheckHealth(_ context.Context) error {
	return nil
}
