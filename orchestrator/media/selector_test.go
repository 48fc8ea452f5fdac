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
	"testing"

	"axonflow/conduit/orchestrator/catalog"
)

// setupCatalog builds a memory-backed registry with two API providers and one
// local provider serving text-gen.
func setupCatalog(t *testing.T) (*catalog.MemoryStore, *catalog.Registry) {
	t.Helper()

	store := catalog.NewMemoryStore()
	store.AddWorker(catalog.Worker{ID: catalog.WorkerTextGen, Name: "Text Generation", Enabled: true})

	store.AddProvider(catalog.Provider{
		ID: "anthropic", Name: "Anthropic", Kind: catalog.ProviderKindAPI,
		AuthType: catalog.AuthTypeAPIKey, AuthSecretName: SecretAnthropicAPIKey,
		Priority: 1, Enabled: true,
	})
	store.AddProvider(catalog.Provider{
		ID: "openai", Name: "OpenAI", Kind: catalog.ProviderKindAPI,
		AuthType: catalog.AuthTypeBearer, AuthSecretName: SecretOpenAIAPIKey,
		Priority: 2, Enabled: true,
	})
	store.AddProvider(catalog.Provider{
		ID: "vllm", Name: "Local vLLM", Kind: catalog.ProviderKindLocal,
		AuthType: catalog.AuthTypeNone, BaseEndpoint: "http://localhost:8000",
		Priority: 3, Enabled: true,
	})
	store.MapProviderToWorker(catalog.WorkerTextGen, "anthropic", nil)
	store.MapProviderToWorker(catalog.WorkerTextGen, "openai", nil)
	store.MapProviderToWorker(catalog.WorkerTextGen, "vllm", nil)

	store.AddModel(catalog.Model{
		ID: "anthropic-sonnet", ProviderID: "anthropic", ModelID: "claude-sonnet-4-20250514",
		WorkerID: catalog.WorkerTextGen, Capabilities: []string{"reasoning", "analysis", "writing"},
		CostInputPer1K: 0.3, CostOutputPer1K: 1.5,
		QualityTier: catalog.QualityPremium, SpeedTier: catalog.SpeedMedium,
		Priority: 1, Enabled: true,
	})
	store.AddModel(catalog.Model{
		ID: "anthropic-haiku", ProviderID: "anthropic", ModelID: "claude-3-5-haiku-20241022",
		WorkerID: catalog.WorkerTextGen, Capabilities: []string{"writing"},
		CostInputPer1K: 0.08, CostOutputPer1K: 0.4,
		QualityTier: catalog.QualityStandard, SpeedTier: catalog.SpeedFast,
		Priority: 2, Enabled: true,
	})
	store.AddModel(catalog.Model{
		ID: "openai-gpt4o", ProviderID: "openai", ModelID: "gpt-4o",
		WorkerID: catalog.WorkerTextGen, Capabilities: []string{"reasoning", "writing"},
		CostInputPer1K: 0.25, CostOutputPer1K: 1.0,
		QualityTier: catalog.QualityPremium, SpeedTier: catalog.SpeedMedium,
		Priority: 1, Enabled: true,
	})
	store.AddModel(catalog.Model{
		ID: "vllm-llama", ProviderID: "vllm", ModelID: "llama-3.1-8b",
		WorkerID: catalog.WorkerTextGen, Capabilities: []string{"writing"},
		QualityTier: catalog.QualityDraft, SpeedTier: catalog.SpeedFast,
		Priority: 1, Enabled: true,
	})

	creds := NewStaticCredentials(map[string]string{
		SecretAnthropicAPIKey: "sk-ant-test",
		SecretOpenAIAPIKey:    "sk-test",
	})
	return store, catalog.NewRegistry(store, creds)
}

func chainIDs(chain []ProviderModel) []string {
	ids := make([]string, len(chain))
	for i, pm := range chain {
		ids[i] = pm.Provider.ID + "/" + pm.Model.ID
	}
	return ids
}

func TestBuildChain(t *testing.T) {
	_, registry := setupCatalog(t)
	sel := NewSelector(registry)
	ctx := context.Background()

	t.Run("priority order", func(t *testing.T) {
		chain, err := sel.BuildChain(ctx, catalog.WorkerTextGen, nil, "", "")
		if err != nil {
			t.Fatalf("BuildChain: %v", err)
		}
		want := []string{
			"anthropic/anthropic-sonnet",
			"anthropic/anthropic-haiku",
			"openai/openai-gpt4o",
			"vllm/vllm-llama",
		}
		got := chainIDs(chain)
		if len(got) != len(want) {
			t.Fatalf("chain = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("chain[%d] = %s, want %s", i, got[i], want[i])
			}
		}
	})

	t.Run("exclude providers", func(t *testing.T) {
		chain, err := sel.BuildChain(ctx, catalog.WorkerTextGen,
			&RequestConstraints{ExcludeProviders: []string{"anthropic"}}, "", "")
		if err != nil {
			t.Fatalf("BuildChain: %v", err)
		}
		for _, pm := range chain {
			if pm.Provider.ID == "anthropic" {
				t.Error("excluded provider leaked into chain")
			}
		}
	})

	t.Run("require local", func(t *testing.T) {
		chain, err := sel.BuildChain(ctx, catalog.WorkerTextGen,
			&RequestConstraints{RequireLocal: true}, "", "")
		if err != nil {
			t.Fatalf("BuildChain: %v", err)
		}
		if len(chain) != 1 || chain[0].Provider.ID != "vllm" {
			t.Errorf("require_local chain = %v", chainIDs(chain))
		}
	})

	t.Run("require capabilities", func(t *testing.T) {
		chain, err := sel.BuildChain(ctx, catalog.WorkerTextGen,
			&RequestConstraints{RequireCapabilities: []string{"reasoning"}}, "", "")
		if err != nil {
			t.Fatalf("BuildChain: %v", err)
		}
		for _, pm := range chain {
			if !pm.Model.HasCapabilities([]string{"reasoning"}) {
				t.Errorf("model %s lacks required capability", pm.Model.ID)
			}
		}
	})

	t.Run("min quality", func(t *testing.T) {
		chain, err := sel.BuildChain(ctx, catalog.WorkerTextGen,
			&RequestConstraints{MinQuality: catalog.QualityPremium}, "", "")
		if err != nil {
			t.Fatalf("BuildChain: %v", err)
		}
		want := []string{"anthropic/anthropic-sonnet", "openai/openai-gpt4o"}
		got := chainIDs(chain)
		if len(got) != len(want) {
			t.Fatalf("chain = %v, want %v", got, want)
		}
	})

	t.Run("preferred provider moves to front", func(t *testing.T) {
		chain, err := sel.BuildChain(ctx, catalog.WorkerTextGen, nil, "openai", "")
		if err != nil {
			t.Fatalf("BuildChain: %v", err)
		}
		if chain[0].Provider.ID != "openai" {
			t.Errorf("preferred provider not first: %v", chainIDs(chain))
		}
		// stable: anthropic pairs keep their internal order after openai
		got := chainIDs(chain)
		if got[1] != "anthropic/anthropic-sonnet" || got[2] != "anthropic/anthropic-haiku" {
			t.Errorf("remaining order not stable: %v", got)
		}
	})

	t.Run("preferred model moves to front", func(t *testing.T) {
		chain, err := sel.BuildChain(ctx, catalog.WorkerTextGen, nil, "", "claude-3-5-haiku-20241022")
		if err != nil {
			t.Fatalf("BuildChain: %v", err)
		}
		if chain[0].Model.ID != "anthropic-haiku" {
			t.Errorf("preferred model not first: %v", chainIDs(chain))
		}
	})

	t.Run("ineligible preference does not widen", func(t *testing.T) {
		chain, err := sel.BuildChain(ctx, catalog.WorkerTextGen,
			&RequestConstraints{ExcludeProviders: []string{"openai"}}, "openai", "")
		if err != nil {
			t.Fatalf("BuildChain: %v", err)
		}
		for _, pm := range chain {
			if pm.Provider.ID == "openai" {
				t.Error("preference must not resurrect an excluded provider")
			}
		}
	})

	t.Run("no providers for unknown worker", func(t *testing.T) {
		_, err := sel.BuildChain(ctx, "no-such-worker", nil, "", "")
		re, ok := err.(*RouteError)
		if !ok || re.Code != ErrCodeNoAvailableProvider {
			t.Errorf("want NO_AVAILABLE_PROVIDER, got %v", err)
		}
	})

	t.Run("impossible constraints", func(t *testing.T) {
		_, err := sel.BuildChain(ctx, catalog.WorkerTextGen,
			&RequestConstraints{RequireLocal: true, MinQuality: catalog.QualityPremium}, "", "")
		re, ok := err.(*RouteError)
		if !ok || re.Code != ErrCodeNoAvailableProvider {
			t.Errorf("want NO_AVAILABLE_PROVIDER, got %v", err)
		}
	})
}

func TestBuildChainSkipsExhaustedProvider(t *testing.T) {
	store, registry := setupCatalog(t)
	sel := NewSelector(registry)
	ctx := context.Background()

	until := timeNowPlusHour()
	if err := store.MarkProviderExhausted(ctx, "anthropic", until); err != nil {
		t.Fatalf("MarkProviderExhausted: %v", err)
	}

	chain, err := sel.BuildChain(ctx, catalog.WorkerTextGen, nil, "", "")
	if err != nil {
		t.Fatalf("BuildChain: %v", err)
	}
	for _, pm := range chain {
		if pm.Provider.ID == "anthropic" {
			t.Error("exhausted provider must not be selectable")
		}
	}
}
