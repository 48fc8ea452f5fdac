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

package media

import (
	"context"
	"log"
	"os"

	"axonflow/conduit/orchestrator/catalog"
)

// Selector builds the ordered provider-model chain a request walks.
type Selector struct {
	registry *catalog.Registry
	logger   *log.Logger
}

// NewSelector creates a selector over the given registry.
func NewSelector(registry *catalog.Registry) *Selector {
	return &Selector{
		registry: registry,
		logger:   log.New(os.Stdout, "[SELECTOR] ", log.LstdFlags),
	}
}

// BuildChain produces the provider-model chain for one request.
//
// Available providers come back from the registry already in priority order;
// each provider's enabled models are appended in model priority order, then
// constraints filter and preferences reorder. An empty result is returned as
// a NO_AVAILABLE_PROVIDER route error.
func (s *Selector) BuildChain(ctx context.Context, workerID string, constraints *RequestConstraints, preferProvider, preferModel string) ([]ProviderModel, error) {
	providers, err := s.registry.GetAvailableProviders(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, NewRouteError(ErrCodeNoAvailableProvider, "no available providers for worker %q", workerID)
	}

	excluded := make(map[string]bool)
	if constraints != nil {
		for _, id := range constraints.ExcludeProviders {
			excluded[id] = true
		}
	}

	var chain []ProviderModel
	for _, provider := range providers {
		if excluded[provider.ID] {
			continue
		}
		if constraints != nil && constraints.RequireLocal && provider.Kind != catalog.ProviderKindLocal {
			continue
		}

		models, err := s.registry.GetModelsForProvider(ctx, provider.ID, workerID)
		if err != nil {
			s.logger.Printf("WARN: listing models for provider %s: %v", provider.ID, err)
			continue
		}
		for _, model := range models {
			if !modelSatisfies(&model, constraints) {
				continue
			}
			chain = append(chain, ProviderModel{Provider: provider, Model: model})
		}
	}

	if len(chain) == 0 {
		return nil, NewRouteError(ErrCodeNoAvailableProvider, "no provider-model pair satisfies constraints for worker %q", workerID)
	}

	chain = promoteProvider(chain, preferProvider)
	chain = promoteModel(chain, preferModel)
	return chain, nil
}

func modelSatisfies(m *catalog.Model, constraints *RequestConstraints) bool {
	if !m.Enabled {
		return false
	}
	if constraints == nil {
		return true
	}
	if len(constraints.RequireCapabilities) > 0 && !m.HasCapabilities(constraints.RequireCapabilities) {
		return false
	}
	if constraints.MinQuality != "" && !catalog.QualityAtLeast(m.QualityTier, constraints.MinQuality) {
		return false
	}
	return true
}

// promoteProvider moves all pairs of the preferred provider to the front,
// keeping order stable within each partition. A preference never widens
// eligibility: an ineligible provider simply is not in the chain.
func promoteProvider(chain []ProviderModel, providerID string) []ProviderModel {
	if providerID == "" {
		return chain
	}
	return stablePartition(chain, func(pm ProviderModel) bool {
		return pm.Provider.ID == providerID
	})
}

// promoteModel moves pairs whose model matches (by row id or provider-native
// id) to the front, stable.
func promoteModel(chain []ProviderModel, modelID string) []ProviderModel {
	if modelID == "" {
		return chain
	}
	return stablePartition(chain, func(pm ProviderModel) bool {
		return pm.Model.ID == modelID || pm.Model.ModelID == modelID
	})
}

func stablePartition(chain []ProviderModel, match func(ProviderModel) bool) []ProviderModel {
	front := make([]ProviderModel, 0, len(chain))
	rest := make([]ProviderModel, 0, len(chain))
	for _, pm := range chain {
		if match(pm) {
			front = append(front, pm)
		} else {
			rest = append(rest, pm)
		}
	}
	if len(front) == 0 {
		return chain
	}
	return append(front, rest...)
}
