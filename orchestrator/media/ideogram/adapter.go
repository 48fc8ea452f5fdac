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

// Package ideogram adapts the Ideogram image generation API for the media
// router.
package ideogram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"axonflow/conduit/orchestrator/catalog"
	"axonflow/conduit/orchestrator/media"
)

// DefaultBaseURL is the default Ideogram API endpoint.
const DefaultBaseURL = "https://api.ideogram.ai"

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter implements the media adapter for Ideogram.
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

// New creates an Ideogram adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{client: &http.Client{Timeout: 60 * time.Second}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ media.Adapter = (*Adapter)(nil)

// ProviderID implements media.Adapter.
func (a *Adapter) ProviderID() string { return "ideogram" }

// SupportedWorkers implements media.Adapter.
func (a *Adapter) SupportedWorkers() []string {
	return []string{catalog.WorkerImageGen}
}

type generateRequest struct {
	ImageRequest imagePayload `json:"image_request"`
}

type imagePayload struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	StyleType      string `json:"style_type,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	NumImages      int    `json:"num_images,omitempty"`
}

type generateResponse struct {
	Data []struct {
		URL        string `json:"url"`
		Resolution string `json:"resolution"`
	} `json:"data"`
}

// Execute implements media.Adapter.
func (a *Adapter) Execute(ctx context.Context, req media.AdapterRequest) (*media.MediaResult, error) {
	if req.Worker != catalog.WorkerImageGen {
		return nil, media.ErrWorkerUnsupported(a.ProviderID(), req.Worker)
	}

	payload := imagePayload{
		Prompt:         req.Prompt,
		Model:          req.Model,
		AspectRatio:    aspectRatio(req.Options),
		StyleType:      req.Options.Style,
		NegativePrompt: req.Options.NegativePrompt,
		NumImages:      req.Options.NumImages,
	}
	body, err := json.Marshal(generateRequest{ImageRequest: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	base := req.Gateway.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/generate", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Gateway.Token != "" {
		httpReq.Header.Set(media.GatewayAuthHeader, "Bearer "+req.Gateway.Token)
	} else {
		httpReq.Header.Set("Api-Key", req.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ideogram API error: %w", err)
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
	if len(apiResp.Data) == 0 {
		return nil, fmt.Errorf("ideogram returned no image data")
	}

	return &media.MediaResult{
		URL:    apiResp.Data[0].URL,
		Width:  req.Options.Width,
		Height: req.Options.Height,
	}, nil
}

// aspectRatio translates request dimensions into Ideogram's enum form
// (ASPECT_16_9, ASPECT_1_1, ...). An explicit aspect_ratio option wins.
func aspectRatio(opts media.MediaOptions) string {
	if opts.AspectRatio != "" {
		return opts.AspectRatio
	}
	switch {
	case opts.Width == 0 || opts.Height == 0:
		return ""
	case opts.Width*9 == opts.Height*16:
		return "ASPECT_16_9"
	case opts.Height*9 == opts.Width*16:
		return "ASPECT_9_16"
	case opts.Width == opts.Height:
		return "ASPECT_1_1"
	default:
		return ""
	}
}

// CheckHealth implements media.Adapter. Ideogram has no cheap probe endpoint,
// so health is a HEAD against the API root.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, DefaultBaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ideogram API error: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return media.AdapterHTTPError(a.ProviderID(), resp.StatusCode, nil)
	}
	return nil
}
