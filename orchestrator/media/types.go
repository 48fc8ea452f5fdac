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

// Package media implements the provider-model selection chain and the simple
// router that drives it: given a worker, a prompt, and constraints, it builds
// an ordered chain of (provider, model) pairs, dispatches through per-vendor
// adapters, interprets failures via the error taxonomy, and fails over until
// the chain is exhausted.
package media

import (
	"axonflow/conduit/orchestrator/catalog"
)

// RoutingTier selects the text routing path.
type RoutingTier string

const (
	// TierAuto lets the classifier decide.
	TierAuto RoutingTier = "auto"

	// TierTextOnly is the fast, cheap path that bypasses the code chain.
	TierTextOnly RoutingTier = "text-only"

	// TierCode is the full code-execution chain.
	TierCode RoutingTier = "code"
)

// MediaOptions is the worker-tagged option bag. Fields are grouped by the
// worker that recognizes them; adapters ignore fields outside their worker.
type MediaOptions struct {
	// text
	SystemPrompt  string      `json:"system_prompt,omitempty"`
	MaxTokens     int         `json:"max_tokens,omitempty"`
	Temperature   float64     `json:"temperature,omitempty"`
	TopP          float64     `json:"top_p,omitempty"`
	StopSequences []string    `json:"stop_sequences,omitempty"`
	TaskType      string      `json:"task_type,omitempty"`
	RoutingTier   RoutingTier `json:"routing_tier,omitempty"`
	Stream        bool        `json:"stream,omitempty"`

	// image
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Style          string `json:"style,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	NumImages      int    `json:"num_images,omitempty"`

	// audio
	VoiceID         string  `json:"voice_id,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
	OutputFormat    string  `json:"output_format,omitempty"`

	// video
	Duration   int    `json:"duration,omitempty"` // seconds
	FPS        int    `json:"fps,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// RequestConstraints narrows the selector chain. Zero values mean
// "unconstrained".
type RequestConstraints struct {
	MaxCostCents        float64             `json:"max_cost_cents,omitempty"`
	MaxLatencyMs        int                 `json:"max_latency_ms,omitempty"`
	MinQuality          catalog.QualityTier `json:"min_quality,omitempty"`
	RequireLocal        bool                `json:"require_local,omitempty"`
	RequireCapabilities []string            `json:"require_capabilities,omitempty"`
	ExcludeProviders    []string            `json:"exclude_providers,omitempty"`
}

// Merge overlays step-level constraints on top of global constraints; the
// step wins on conflict. Either argument may be nil.
func (c *RequestConstraints) Merge(step *RequestConstraints) *RequestConstraints {
	if c == nil {
		return step
	}
	if step == nil {
		copied := *c
		return &copied
	}

	merged := *c
	if step.MaxCostCents > 0 {
		merged.MaxCostCents = step.MaxCostCents
	}
	if step.MaxLatencyMs > 0 {
		merged.MaxLatencyMs = step.MaxLatencyMs
	}
	if step.MinQuality != "" {
		merged.MinQuality = step.MinQuality
	}
	if step.RequireLocal {
		merged.RequireLocal = true
	}
	if len(step.RequireCapabilities) > 0 {
		merged.RequireCapabilities = step.RequireCapabilities
	}
	if len(step.ExcludeProviders) > 0 {
		merged.ExcludeProviders = append(append([]string{}, merged.ExcludeProviders...), step.ExcludeProviders...)
	}
	return &merged
}

// SimpleRequest is one routed generation request.
type SimpleRequest struct {
	RequestID   string              `json:"request_id,omitempty"`
	Worker      string              `json:"worker"`
	Prompt      string              `json:"prompt"`
	Options     MediaOptions        `json:"options,omitempty"`
	Constraints *RequestConstraints `json:"constraints,omitempty"`

	// PreferProvider / PreferModel move the matching pairs to the front of
	// the chain when eligible. They never widen eligibility.
	PreferProvider string `json:"prefer_provider,omitempty"`
	PreferModel    string `json:"prefer_model,omitempty"`
}

// MediaResult is the union result type, tagged by worker. Text results carry
// Text and TokensUsed; image/audio/video carry URL or Base64 payloads.
// Every result names the provider and model that produced it.
type MediaResult struct {
	Worker   string `json:"worker"`
	Provider string `json:"provider"`
	Model    string `json:"model"`

	Text       string `json:"text,omitempty"`
	TokensUsed int    `json:"tokens_used,omitempty"`

	URL    string `json:"url,omitempty"`
	Base64 string `json:"base64,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// StepMeta is per-attempt execution metadata.
type StepMeta struct {
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	LatencyMs  int64   `json:"latency_ms"`
	TokensUsed int     `json:"tokens_used,omitempty"`
	CostCents  float64 `json:"cost_cents,omitempty"`
}

// RouteResult is the simple router's envelope for one request.
type RouteResult struct {
	Success            bool         `json:"success"`
	Result             *MediaResult `json:"result,omitempty"`
	Meta               StepMeta     `json:"meta,omitempty"`
	AttemptedProviders []string     `json:"attempted_providers"`
	Error              string       `json:"error,omitempty"`
	ErrorCode          string       `json:"error_code,omitempty"`
	RequestID          string       `json:"request_id,omitempty"`
}

// StreamDelta is one element of a streaming text response. Adapters translate
// their native event framing into this uniform schema.
type StreamDelta struct {
	Text      string `json:"text"`
	Done      bool   `json:"done"`
	RequestID string `json:"request_id,omitempty"`
}

// ProviderModel is one link of the selector chain.
type ProviderModel struct {
	Provider catalog.Provider
	Model    catalog.Model
}
