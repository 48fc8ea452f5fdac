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

// Package catalog manages the provider/model/workflow catalog and the mutable
// per-provider health state. All routing decisions read through the Registry;
// health updates flow back through it as single-row atomic mutations.
package catalog

import (
	"fmt"
	"time"
)

// ProviderKind classifies how a provider is reached.
type ProviderKind string

const (
	// ProviderKindAPI is a remote vendor API (Anthropic, OpenAI, ...).
	ProviderKindAPI ProviderKind = "api"

	// ProviderKindLocal is an on-prem endpoint (vLLM, task runner tunnel).
	// Local providers require a base endpoint and never use API keys.
	ProviderKindLocal ProviderKind = "local"

	// ProviderKindGateway is a provider reached through the AI gateway.
	ProviderKindGateway ProviderKind = "gateway"
)

// AuthType identifies the credential shape a provider expects.
type AuthType string

const (
	AuthTypeBearer AuthType = "bearer"
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeNone   AuthType = "none"
)

// QualityTier orders model output quality. Higher tiers satisfy lower
// minimum-quality constraints.
type QualityTier string

const (
	QualityDraft    QualityTier = "draft"
	QualityStandard QualityTier = "standard"
	QualityPremium  QualityTier = "premium"
)

// qualityRank maps tiers to a comparable ordering (draft < standard < premium).
var qualityRank = map[QualityTier]int{
	QualityDraft:    0,
	QualityStandard: 1,
	QualityPremium:  2,
}

// QualityAtLeast reports whether tier meets or exceeds the minimum tier.
// Unknown tiers rank below draft so malformed rows never satisfy a constraint.
func QualityAtLeast(tier, min QualityTier) bool {
	tr, ok := qualityRank[tier]
	if !ok {
		return false
	}
	mr, ok := qualityRank[min]
	if !ok {
		return true
	}
	return tr >= mr
}

// SpeedTier orders model latency expectations.
type SpeedTier string

const (
	SpeedFast   SpeedTier = "fast"
	SpeedMedium SpeedTier = "medium"
	SpeedSlow   SpeedTier = "slow"
)

// Worker is a logical capability domain (text-gen, image-gen, ...).
// Workers are static and loaded at start.
type Worker struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MediaTypes []string  `json:"media_types"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

// Well-known worker ids.
const (
	WorkerTextGen      = "text-gen"
	WorkerImageGen     = "image-gen"
	WorkerAudioGen     = "audio-gen"
	WorkerVideoGen     = "video-gen"
	WorkerEmbeddingGen = "embedding-gen"
)

// Provider is a remote or local generation service.
type Provider struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Kind           ProviderKind `json:"kind"`
	BaseEndpoint   string       `json:"base_endpoint,omitempty"`
	AuthType       AuthType     `json:"auth_type"`
	AuthSecretName string       `json:"auth_secret_name,omitempty"`
	Priority       int          `json:"priority"`
	Enabled        bool         `json:"enabled"`
	RateLimitRPM   int          `json:"rate_limit_rpm,omitempty"`
	DailyQuota     int          `json:"daily_quota,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Model is a specific model exposed by a provider for a worker.
// A model's provider must be enabled for the model's worker.
type Model struct {
	ID              string      `json:"id"`
	ProviderID      string      `json:"provider_id"`
	ModelID         string      `json:"model_id"` // provider-native model id
	WorkerID        string      `json:"worker_id"`
	Capabilities    []string    `json:"capabilities"`
	ContextWindow   int         `json:"context_window,omitempty"`
	CostInputPer1K  float64     `json:"cost_input_per_1k"`  // cents per 1K input tokens
	CostOutputPer1K float64     `json:"cost_output_per_1k"` // cents per 1K output tokens
	QualityTier     QualityTier `json:"quality_tier"`
	SpeedTier       SpeedTier   `json:"speed_tier"`
	Priority        int         `json:"priority"`
	Enabled         bool        `json:"enabled"`
}

// HasCapabilities reports whether the model carries every required tag.
func (m *Model) HasCapabilities(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range m.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ProviderStatus is the mutable per-provider health row. It is the only
// shared mutable state in the routing layer; writes go through the Registry.
type ProviderStatus struct {
	ProviderID           string     `json:"provider_id"`
	Healthy              bool       `json:"healthy"`
	LastSuccessAt        *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt        *time.Time `json:"last_failure_at,omitempty"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	QuotaUsedToday       int        `json:"quota_used_today"`
	QuotaResetsAt        *time.Time `json:"quota_resets_at,omitempty"`
	MarkedExhaustedUntil *time.Time `json:"marked_exhausted_until,omitempty"`
}

// Exhausted reports whether the provider is inside its exhaustion cooldown.
func (s *ProviderStatus) Exhausted(now time.Time) bool {
	return s != nil && s.MarkedExhaustedUntil != nil && s.MarkedExhaustedUntil.After(now)
}

// WorkflowStep is one node in a workflow definition DAG.
type WorkflowStep struct {
	ID             string `json:"id"`
	Worker         string `json:"worker"`
	PromptTemplate string `json:"prompt_template"`
	OutputKey      string `json:"output_key"`

	// InputFrom is either "request" or "step:<id>". Empty means "request".
	InputFrom string `json:"input_from,omitempty"`

	Constraints map[string]any `json:"constraints,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
}

// DependsOnStep returns the step id this step depends on, or "" if the step
// reads from the initial request.
func (s *WorkflowStep) DependsOnStep() string {
	const prefix = "step:"
	if len(s.InputFrom) > len(prefix) && s.InputFrom[:len(prefix)] == prefix {
		return s.InputFrom[len(prefix):]
	}
	return ""
}

// WorkflowDefinition is a DAG of steps. When ParallelGroups is set it is the
// authoritative layer partition and must not be re-derived.
type WorkflowDefinition struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Steps          []WorkflowStep `json:"steps"`
	ParallelGroups [][]string     `json:"parallel_groups,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at,omitempty"`
}

// Step returns the step with the given id.
func (w *WorkflowDefinition) Step(id string) (*WorkflowStep, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// Validate performs structural validation of a workflow definition.
func (w *WorkflowDefinition) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", w.ID)
	}
	seen := make(map[string]bool, len(w.Steps))
	for _, step := range w.Steps {
		if step.ID == "" {
			return fmt.Errorf("workflow %q contains a step without an id", w.ID)
		}
		if seen[step.ID] {
			return fmt.Errorf("workflow %q has duplicate step id %q", w.ID, step.ID)
		}
		seen[step.ID] = true
		if step.Worker == "" {
			return fmt.Errorf("step %q has no worker", step.ID)
		}
		if step.OutputKey == "" {
			return fmt.Errorf("step %q has no output key", step.ID)
		}
	}
	for _, step := range w.Steps {
		if dep := step.DependsOnStep(); dep != "" && !seen[dep] {
			return fmt.Errorf("step %q depends on unknown step %q", step.ID, dep)
		}
	}
	for _, group := range w.ParallelGroups {
		for _, id := range group {
			if !seen[id] {
				return fmt.Errorf("parallel group references unknown step %q", id)
			}
		}
	}
	return nil
}
