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

package orchestrator

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"axonflow/conduit/orchestrator/catalog"
)

// DefaultCodeWaterfall is the compiled-in fallback for code execution.
var DefaultCodeWaterfall = []string{
	"claude-sonnet-4-20250514",
	"gemini-2.5-pro",
	"glm-4.5-air",
}

// legacyExecutorWaterfalls maps the deprecated preferred_executor field to a
// fixed model order placing that family first.
var legacyExecutorWaterfalls = map[string][]string{
	"claude": {"claude-sonnet-4-20250514", "gemini-2.5-pro", "glm-4.5-air"},
	"gemini": {"gemini-2.5-pro", "claude-sonnet-4-20250514", "glm-4.5-air"},
}

// WaterfallParams carries the per-request model selection inputs for code
// execution, in descending precedence order.
type WaterfallParams struct {
	// OverrideWaterfall applies only while OverrideUntil is in the future.
	OverrideWaterfall []string   `json:"override_waterfall,omitempty"`
	OverrideUntil     *time.Time `json:"override_until,omitempty"`

	ModelWaterfall []string `json:"model_waterfall,omitempty"`
	PrimaryModel   string   `json:"primary_model,omitempty"`

	// PreferredExecutor is the legacy binary selector, "claude" or "gemini".
	PreferredExecutor string `json:"preferred_executor,omitempty"`
}

// WaterfallResolver computes the effective ordered model list for a code
// execution request.
type WaterfallResolver struct {
	registry   *catalog.Registry
	envDefault []string
	logger     *log.Logger
	now        func() time.Time
}

// NewWaterfallResolver creates a resolver. envDefaultCSV is the deployment
// default waterfall as a comma-separated model list; it may be empty.
func NewWaterfallResolver(registry *catalog.Registry, envDefaultCSV string) *WaterfallResolver {
	return &WaterfallResolver{
		registry:   registry,
		envDefault: splitCSV(envDefaultCSV),
		logger:     log.New(os.Stdout, "[WATERFALL] ", log.LstdFlags),
		now:        time.Now,
	}
}

// Resolve returns the effective waterfall for the request.
func (r *WaterfallResolver) Resolve(ctx context.Context, params WaterfallParams) []string {
	if len(params.OverrideWaterfall) > 0 && params.OverrideUntil != nil && params.OverrideUntil.After(r.now()) {
		r.logger.Printf("Using override waterfall (expires %s): %v",
			params.OverrideUntil.Format(time.RFC3339), params.OverrideWaterfall)
		return append([]string{}, params.OverrideWaterfall...)
	}

	if len(params.ModelWaterfall) > 0 {
		return append([]string{}, params.ModelWaterfall...)
	}

	if params.PrimaryModel != "" {
		return []string{params.PrimaryModel}
	}

	if wf, ok := legacyExecutorWaterfalls[strings.ToLower(params.PreferredExecutor)]; ok {
		r.logger.Printf("Legacy preferred_executor=%s mapped to waterfall %v", params.PreferredExecutor, wf)
		return append([]string{}, wf...)
	}

	if len(r.envDefault) > 0 {
		if valid := r.validateAgainstCatalog(ctx, r.envDefault); len(valid) > 0 {
			return valid
		}
		r.logger.Printf("Configured default waterfall %v has no catalog models, using compiled-in default", r.envDefault)
	}

	return append([]string{}, DefaultCodeWaterfall...)
}

// validateAgainstCatalog drops model names that no enabled text-gen model in
// the catalog exposes. A catalog read failure keeps the list as configured.
func (r *WaterfallResolver) validateAgainstCatalog(ctx context.Context, names []string) []string {
	known, err := r.catalogModelIDs(ctx)
	if err != nil {
		r.logger.Printf("Cannot validate waterfall against catalog: %v", err)
		return append([]string{}, names...)
	}

	var valid []string
	for _, name := range names {
		if known[name] {
			valid = append(valid, name)
		} else {
			r.logger.Printf("Dropping unknown waterfall model %q", name)
		}
	}
	return valid
}

func (r *WaterfallResolver) catalogModelIDs(ctx context.Context) (map[string]bool, error) {
	providers, err := r.registry.GetProvidersForWorker(ctx, catalog.WorkerTextGen)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	for _, p := range providers {
		models, err := r.registry.GetModelsForProvider(ctx, p.ID, catalog.WorkerTextGen)
		if err != nil {
			continue
		}
		for _, m := range models {
			if m.Enabled {
				known[m.ModelID] = true
			}
		}
	}
	return known, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
