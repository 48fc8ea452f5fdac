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

package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticCreds is a minimal CredentialSource for registry tests.
type staticCreds struct {
	secrets map[string]string
	gateway string
}

func (c *staticCreds) Secret(name string) (string, bool) {
	v, ok := c.secrets[name]
	return v, ok && v != ""
}

func (c *staticCreds) GatewayToken() (string, bool) {
	return c.gateway, c.gateway != ""
}

func seedStore() *MemoryStore {
	store := NewMemoryStore()
	store.AddWorker(Worker{ID: WorkerTextGen, Name: "Text Generation", Enabled: true})

	store.AddProvider(Provider{
		ID: "anthropic", Kind: ProviderKindAPI, AuthType: AuthTypeAPIKey,
		AuthSecretName: "ANTHROPIC_API_KEY", Priority: 1, Enabled: true,
	})
	store.AddProvider(Provider{
		ID: "openai", Kind: ProviderKindAPI, AuthType: AuthTypeBearer,
		AuthSecretName: "OPENAI_API_KEY", Priority: 2, Enabled: true,
	})
	store.AddProvider(Provider{
		ID: "vllm", Kind: ProviderKindLocal, AuthType: AuthTypeNone,
		BaseEndpoint: "http://localhost:8000", Priority: 3, Enabled: true,
	})
	store.AddProvider(Provider{
		ID: "disabled", Kind: ProviderKindAPI, AuthType: AuthTypeAPIKey,
		AuthSecretName: "ANTHROPIC_API_KEY", Priority: 4, Enabled: false,
	})
	for _, id := range []string{"anthropic", "openai", "vllm", "disabled"} {
		store.MapProviderToWorker(WorkerTextGen, id, nil)
	}
	return store
}

func TestGetAvailableProviders(t *testing.T) {
	ctx := context.Background()

	t.Run("credential gating", func(t *testing.T) {
		store := seedStore()
		creds := &staticCreds{secrets: map[string]string{"ANTHROPIC_API_KEY": "sk"}}
		registry := NewRegistry(store, creds)

		providers, err := registry.GetAvailableProviders(ctx, WorkerTextGen)
		require.NoError(t, err)

		ids := providerIDs(providers)
		// openai has no key and no gateway token; disabled is disabled.
		assert.Equal(t, []string{"anthropic", "vllm"}, ids)
	})

	t.Run("gateway token covers keyless providers", func(t *testing.T) {
		store := seedStore()
		creds := &staticCreds{gateway: "gw-token"}
		registry := NewRegistry(store, creds)

		providers, err := registry.GetAvailableProviders(ctx, WorkerTextGen)
		require.NoError(t, err)
		assert.Equal(t, []string{"anthropic", "openai", "vllm"}, providerIDs(providers))
	})

	t.Run("local provider needs base endpoint", func(t *testing.T) {
		store := seedStore()
		store.AddProvider(Provider{
			ID: "vllm", Kind: ProviderKindLocal, AuthType: AuthTypeNone,
			Priority: 3, Enabled: true, // no base endpoint
		})
		creds := &staticCreds{gateway: "gw-token"}
		registry := NewRegistry(store, creds)

		providers, err := registry.GetAvailableProviders(ctx, WorkerTextGen)
		require.NoError(t, err)
		assert.NotContains(t, providerIDs(providers), "vllm")
	})

	t.Run("exhausted provider filtered until deadline", func(t *testing.T) {
		store := seedStore()
		creds := &staticCreds{gateway: "gw-token"}
		registry := NewRegistry(store, creds)

		require.NoError(t, registry.MarkProviderExhausted(ctx, "anthropic", time.Now().Add(time.Hour)))
		providers, err := registry.GetAvailableProviders(ctx, WorkerTextGen)
		require.NoError(t, err)
		assert.NotContains(t, providerIDs(providers), "anthropic")

		// A past deadline no longer filters.
		require.NoError(t, registry.MarkProviderExhausted(ctx, "openai", time.Now().Add(-time.Minute)))
		providers, err = registry.GetAvailableProviders(ctx, WorkerTextGen)
		require.NoError(t, err)
		assert.Contains(t, providerIDs(providers), "openai")
	})

	t.Run("success resets exhaustion and failures", func(t *testing.T) {
		store := seedStore()
		creds := &staticCreds{gateway: "gw-token"}
		registry := NewRegistry(store, creds)

		require.NoError(t, registry.MarkProviderExhausted(ctx, "anthropic", time.Now().Add(time.Hour)))
		require.NoError(t, registry.MarkProviderHealthy(ctx, "anthropic"))

		st, err := registry.GetProviderStatus(ctx, "anthropic")
		require.NoError(t, err)
		assert.True(t, st.Healthy)
		assert.Zero(t, st.ConsecutiveFailures)
		assert.Nil(t, st.MarkedExhaustedUntil)
	})
}

func TestConsecutiveFailureThreshold(t *testing.T) {
	ctx := context.Background()
	store := seedStore()
	registry := NewRegistry(store, &staticCreds{gateway: "gw"})

	for i := 0; i < failureUnhealthyThreshold-1; i++ {
		require.NoError(t, registry.IncrementProviderFailures(ctx, "openai"))
	}
	st, err := registry.GetProviderStatus(ctx, "openai")
	require.NoError(t, err)
	assert.True(t, st.Healthy, "below threshold the provider stays healthy")

	require.NoError(t, registry.IncrementProviderFailures(ctx, "openai"))
	st, err = registry.GetProviderStatus(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, st.Healthy, "threshold reached flips healthy to false")
	assert.Equal(t, failureUnhealthyThreshold, st.ConsecutiveFailures)
}

func TestWorkflowBuiltins(t *testing.T) {
	ctx := context.Background()
	store := seedStore()

	builtin := WorkflowDefinition{
		ID:   "social-post",
		Name: "Social Post (builtin)",
		Steps: []WorkflowStep{
			{ID: "copy", Worker: WorkerTextGen, PromptTemplate: "{{topic}}", OutputKey: "copy"},
		},
	}
	registry := NewRegistry(store, &staticCreds{}, WithBuiltinWorkflows([]WorkflowDefinition{builtin}))

	t.Run("builtin resolves when not stored", func(t *testing.T) {
		def, err := registry.GetWorkflow(ctx, "social-post")
		require.NoError(t, err)
		assert.Equal(t, "Social Post (builtin)", def.Name)
	})

	t.Run("stored definition shadows builtin", func(t *testing.T) {
		stored := builtin
		stored.Name = "Social Post (stored)"
		require.NoError(t, registry.SaveWorkflow(ctx, &stored))

		def, err := registry.GetWorkflow(ctx, "social-post")
		require.NoError(t, err)
		assert.Equal(t, "Social Post (stored)", def.Name)

		list, err := registry.ListWorkflows(ctx)
		require.NoError(t, err)
		count := 0
		for _, d := range list {
			if d.ID == "social-post" {
				count++
				assert.Equal(t, "Social Post (stored)", d.Name)
			}
		}
		assert.Equal(t, 1, count, "shadowed builtin must not be listed twice")
	})

	t.Run("unknown workflow", func(t *testing.T) {
		_, err := registry.GetWorkflow(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func providerIDs(providers []Provider) []string {
	ids := make([]string, len(providers))
	for i, p := range providers {
		ids[i] = p.ID
	}
	return ids
}
