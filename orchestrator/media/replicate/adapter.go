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

// Package replicate adapts Replicate's asynchronous prediction API for the
// media router. Execute creates a prediction and polls its status URL at
// 1-second intervals until a terminal state or the per-call timeout.
package replicate

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

const (
	// DefaultBaseURL is the default Replicate API endpoint.
	DefaultBaseURL = "https://api.replicate.com"

	// PollInterval is the delay between prediction status polls.
	PollInterval = 1 * time.Second

	// ImageTimeout and VideoTimeout bound prediction polling per worker.
	ImageTimeout = 60 * time.Second
	VideoTimeout = 300 * time.Second
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter implements the media adapter for Replicate.
type Adapter struct {
	client HTTPClient
	poll   time.Duration
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

// WithPollInterval overrides the status poll interval (used by tests).
func WithPollInterval(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.poll = d
		}
	}
}

// New creates a Replicate adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		client: &http.Client{Timeout: 30 * time.Second},
		poll:   PollInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ media.Adapter = (*Adapter)(nil)

// ProviderID implements media.Adapter.
func (a *Adapter) ProviderID() string { return "replicate" }

// SupportedWorkers implements media.Adapter.
func (a *Adapter) SupportedWorkers() []string {
	return []string{catalog.WorkerImageGen, catalog.WorkerVideoGen}
}

type predictionRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

type prediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output"`
	Error  string `json:"error,omitempty"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// Execute implements media.Adapter: create the prediction, then poll until a
// terminal state.
func (a *Adapter) Execute(ctx context.Context, req media.AdapterRequest) (*media.MediaResult, error) {
	timeout := req.Timeout
	switch req.Worker {
	case catalog.WorkerImageGen:
		if timeout <= 0 {
			timeout = ImageTimeout
		}
	case catalog.WorkerVideoGen:
		if timeout <= 0 {
			timeout = VideoTimeout
		}
	default:
		return nil, media.ErrWorkerUnsupported(a.ProviderID(), req.Worker)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pred, err := a.create(ctx, req)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()
	for {
		switch pred.Status {
		case "succeeded":
			return a.extract(req, pred)
		case "failed", "canceled":
			return nil, fmt.Errorf("replicate prediction %s %s: %s", pred.ID, pred.Status, pred.Error)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("replicate prediction %s timed out: %w", pred.ID, ctx.Err())
		case <-ticker.C:
		}

		pred, err = a.get(ctx, req, pred.URLs.Get)
		if err != nil {
			return nil, err
		}
	}
}

func (a *Adapter) create(ctx context.Context, req media.AdapterRequest) (*prediction, error) {
	input := map[string]any{"prompt": req.Prompt}
	if req.Options.Width > 0 {
		input["width"] = req.Options.Width
	}
	if req.Options.Height > 0 {
		input["height"] = req.Options.Height
	}
	if req.Options.AspectRatio != "" {
		input["aspect_ratio"] = req.Options.AspectRatio
	}
	if req.Options.NegativePrompt != "" {
		input["negative_prompt"] = req.Options.NegativePrompt
	}
	if req.Worker == catalog.WorkerVideoGen {
		if req.Options.Duration > 0 {
			input["duration"] = req.Options.Duration
		}
		if req.Options.FPS > 0 {
			input["fps"] = req.Options.FPS
		}
		if req.Options.Resolution != "" {
			input["resolution"] = req.Options.Resolution
		}
	}

	body, err := json.Marshal(predictionRequest{Version: req.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	base := req.Gateway.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/predictions", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setAuth(httpReq, req)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("replicate API error: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, media.AdapterHTTPError(a.ProviderID(), resp.StatusCode, respBody)
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w", err)
	}
	return &pred, nil
}

func (a *Adapter) get(ctx context.Context, req media.AdapterRequest, statusURL string) (*prediction, error) {
	if statusURL == "" {
		return nil, fmt.Errorf("replicate prediction has no status URL")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setAuth(httpReq, req)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("replicate API error: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, media.AdapterHTTPError(a.ProviderID(), resp.StatusCode, respBody)
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w", err)
	}
	return &pred, nil
}

func (a *Adapter) setAuth(httpReq *http.Request, req media.AdapterRequest) {
	if req.Gateway.Token != "" {
		httpReq.Header.Set(media.GatewayAuthHeader, "Bearer "+req.Gateway.Token)
		return
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
}

// extract pulls the first output URL out of the prediction. Replicate models
// return either a single URL string or a list of them.
func (a *Adapter) extract(req media.AdapterRequest, pred *prediction) (*media.MediaResult, error) {
	result := &media.MediaResult{
		Width:  req.Options.Width,
		Height: req.Options.Height,
	}
	switch out := pred.Output.(type) {
	case string:
		result.URL = out
	case []any:
		for _, item := range out {
			if s, ok := item.(string); ok && s != "" {
				result.URL = s
				break
			}
		}
	}
	if result.URL == "" {
		return nil, fmt.Errorf("replicate prediction %s succeeded with no output URL", pred.ID)
	}
	return result, nil
}

// CheckHealth implements media.Adapter using the account endpoint.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, DefaultBaseURL+"/v1/account", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("replicate API error: %w", err)
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
