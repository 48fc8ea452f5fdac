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

// Package elevenlabs adapts the ElevenLabs text-to-speech API for the media
// router. Markdown is stripped upstream by the speech transformer, so the
// adapter receives plain prose.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"axonflow/conduit/orchestrator/catalog"
	"axonflow/conduit/orchestrator/media"
)

const (
	// DefaultBaseURL is the default ElevenLabs API endpoint.
	DefaultBaseURL = "https://api.elevenlabs.io"

	// DefaultVoiceID is the fallback voice when the caller names none.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

	// DefaultStability and DefaultSimilarityBoost are the vendor-recommended
	// voice settings.
	DefaultStability       = 0.5
	DefaultSimilarityBoost = 0.75
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter implements the media adapter for ElevenLabs.
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

// New creates an ElevenLabs adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{client: &http.Client{Timeout: 120 * time.Second}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ media.Adapter = (*Adapter)(nil)

// ProviderID implements media.Adapter.
func (a *Adapter) ProviderID() string { return "elevenlabs" }

// SupportedWorkers implements media.Adapter.
func (a *Adapter) SupportedWorkers() []string {
	return []string{catalog.WorkerAudioGen}
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// Execute implements media.Adapter.
func (a *Adapter) Execute(ctx context.Context, req media.AdapterRequest) (*media.MediaResult, error) {
	if req.Worker != catalog.WorkerAudioGen {
		return nil, media.ErrWorkerUnsupported(a.ProviderID(), req.Worker)
	}

	voiceID := req.Options.VoiceID
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	settings := voiceSettings{
		Stability:       req.Options.Stability,
		SimilarityBoost: req.Options.SimilarityBoost,
	}
	if settings.Stability == 0 {
		settings.Stability = DefaultStability
	}
	if settings.SimilarityBoost == 0 {
		settings.SimilarityBoost = DefaultSimilarityBoost
	}
	if req.Options.Speed > 0 {
		settings.Speed = req.Options.Speed
	}

	body, err := json.Marshal(ttsRequest{
		Text:          req.Prompt,
		ModelID:       req.Model,
		VoiceSettings: settings,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	base := req.Gateway.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", base, voiceID)
	if req.Options.OutputFormat != "" {
		endpoint += "?output_format=" + req.Options.OutputFormat
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Gateway.Token != "" {
		httpReq.Header.Set(media.GatewayAuthHeader, "Bearer "+req.Gateway.Token)
	} else {
		httpReq.Header.Set("xi-api-key", req.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs API error: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, media.AdapterHTTPError(a.ProviderID(), resp.StatusCode, respBody)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio body: %w", err)
	}
	return &media.MediaResult{Base64: base64.StdEncoding.EncodeToString(audio)}, nil
}

// CheckHealth implements media.Adapter using the voices listing endpoint.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, DefaultBaseURL+"/v1/voices", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("elevenlabs API error: %w", err)
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
