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

// Package gemini adapts Google's Generative Language API for the media
// router. Unlike the other vendors, authentication is a key query parameter.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"axonflow/conduit/orchestrator/catalog"
	"axonflow/conduit/orchestrator/media"
)

// DefaultBaseURL is the default Generative Language API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter implements the media adapter for Gemini.
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

// New creates a Gemini adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{client: &http.Client{Timeout: 120 * time.Second}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ media.Adapter = (*Adapter)(nil)

// ProviderID implements media.Adapter.
func (a *Adapter) ProviderID() string { return "gemini" }

// SupportedWorkers implements media.Adapter.
func (a *Adapter) SupportedWorkers() []string {
	return []string{catalog.WorkerTextGen}
}

type generateRequest struct {
	Contents          []content   `json:"contents"`
	SystemInstruction *content    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generation `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generation struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Execute implements media.Adapter.
func (a *Adapter) Execute(ctx context.Context, req media.AdapterRequest) (*media.MediaResult, error) {
	if req.Worker != catalog.WorkerTextGen {
		return nil, media.ErrWorkerUnsupported(a.ProviderID(), req.Worker)
	}

	apiReq := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
	}
	if req.SystemPrompt != "" {
		apiReq.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}
	gen := &generation{
		MaxOutputTokens: req.Options.MaxTokens,
		StopSequences:   req.Options.StopSequences,
	}
	if req.Options.Temperature > 0 {
		gen.Temperature = &req.Options.Temperature
	}
	if req.Options.TopP > 0 {
		gen.TopP = &req.Options.TopP
	}
	apiReq.GenerationConfig = gen

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	base := req.Gateway.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, req.Model)
	if req.Gateway.Token == "" {
		endpoint += "?key=" + url.QueryEscape(req.APIKey)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Gateway.Token != "" {
		httpReq.Header.Set(media.GatewayAuthHeader, "Bearer "+req.Gateway.Token)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, media.AdapterHTTPError(a.ProviderID(), resp.StatusCode, respBody)
	}

	var apiResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var text string
	for _, p := range apiResp.Candidates[0].Content.Parts {
		text += p.Text
	}

	return &media.MediaResult{
		Text:       text,
		TokensUsed: apiResp.UsageMetadata.TotalTokenCount,
	}, nil
}

// CheckHealth implements media.Adapter with a minimal generation call.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	probe := media.AdapterRequest{
		Worker:  catalog.WorkerTextGen,
		Prompt:  "ping",
		Model:   "gemini-2.0-flash",
		Options: media.MediaOptions{MaxTokens: 1},
	}
	_, err := a.Execute(ctx, probe)
	return err
}
