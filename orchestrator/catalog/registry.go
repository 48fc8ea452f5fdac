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
	"fmt"
	"log"
	"os"
	"time"
)

// CredentialSource resolves credential identifiers injected at start.
// Providers reference credentials by auth_secret_name; the source answers
// whether a given name resolves to a usable value right now.
type CredentialSource interface {
	// Secret returns the credential value for a secret name.
	Secret(name string) (string, bool)

	// GatewayToken returns the AI-gateway bearer token, if configured.
	// When present, non-local providers without their own key remain
	// eligible (gateway BYOK).
	GatewayToken() (string, bool)
}

// Registry exposes capability-, worker-, and provider-scoped catalog lookups
// and serializes provider health mutations. It is safe for concurrent use;
// all state lives in the Store.
type Registry struct {
	store       Store
	credentials CredentialSource
	builtins    map[string]WorkflowDefinition
	logger      *log.Logger
}

// RegistryOption configures the Registry during creation.
type RegistryOption func(*Registry)

// WithRegistryLogger sets a custom logger for the registry.
func WithRegistryLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithBuiltinWorkflows registers in-process workflow templates. Builtins are
// not persisted; stored workflows with the same id shadow them.
func WithBuiltinWorkflows(defs []WorkflowDefinition) RegistryOption {
	return func(r *Registry) {
		for _, def := range defs {
			r.builtins[def.ID] = def
		}
	}
}

// NewRegistry creates a catalog registry over the given store.
func NewRegistry(store Store, credentials CredentialSource, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:       store,
		credentials: credentials,
		builtins:    make(map[string]WorkflowDefinition),
		logger:      log.New(os.Stdout, "[CATALOG] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetWorker returns a worker by id.
func (r *Registry) GetWorker(ctx context.Context, id string) (*Worker, error) {
	return r.store.GetWorker(ctx, id)
}

// GetProvider returns a provider by id.
func (r *Registry) GetProvider(ctx context.Context, id string) (*Provider, error) {
	return r.store.GetProvider(ctx, id)
}

// GetProvidersForWorker returns the providers mapped to a worker in effective
// priority order (per-worker priority overrides global priority).
func (r *Registry) GetProvidersForWorker(ctx context.Context, workerID string) ([]Provider, error) {
	return r.store.GetProvidersForWorker(ctx, workerID)
}

// GetModelsForProvider returns the enabled models a provider exposes for a
// worker, in model priority order.
func (r *Registry) GetModelsForProvider(ctx context.Context, providerID, workerID string) ([]Model, error) {
	return r.store.GetModelsForProvider(ctx, providerID, workerID)
}

// FindModelsByCapability returns models for a worker that carry every
// required capability tag.
func (r *Registry) FindModelsByCapability(ctx context.Context, workerID string, requiredTags []string) ([]Model, error) {
	providers, err := r.store.GetProvidersForWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}

	var matched []Model
	for _, p := range providers {
		models, err := r.store.GetModelsForProvider(ctx, p.ID, workerID)
		if err != nil {
			return nil, err
		}
		for _, m := range models {
			if m.HasCapabilities(requiredTags) {
				matched = append(matched, m)
			}
		}
	}
	return matched, nil
}

// GetAvailableProviders returns providers eligible for routing right now:
// enabled, not inside an exhaustion cooldown, and with a resolvable
// credential. A non-local provider qualifies when its own API key resolves
// or a gateway token is configured (gateway BYOK); a local provider requires
// its base endpoint.
func (r *Registry) GetAvailableProviders(ctx context.Context, workerID string) ([]Provider, error) {
	providers, err := r.store.GetProvidersForWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	available := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if !p.Enabled {
			continue
		}

		status, err := r.store.GetProviderStatus(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read status for provider %q: %w", p.ID, err)
		}
		if status.Exhausted(now) {
			r.logger.Printf("Skipping exhausted provider %s (until %s)", p.ID, status.MarkedExhaustedUntil.Format(time.RFC3339))
			continue
		}

		if !r.credentialAvailable(&p) {
			continue
		}

		available = append(available, p)
	}

	return available, nil
}

// credentialAvailable reports whether the provider can be authenticated with
// the credentials currently injected.
func (r *Registry) credentialAvailable(p *Provider) bool {
	if p.Kind == ProviderKindLocal {
		return p.BaseEndpoint != ""
	}
	if p.AuthType == AuthTypeNone {
		return true
	}
	if p.AuthSecretName != "" {
		if _, ok := r.credentials.Secret(p.AuthSecretName); ok {
			return true
		}
	}
	_, ok := r.credentials.GatewayToken()
	return ok
}

// GetProviderStatus returns the current health row for a provider.
func (r *Registry) GetProviderStatus(ctx context.Context, providerID string) (*ProviderStatus, error) {
	return r.store.GetProviderStatus(ctx, providerID)
}

// MarkProviderExhausted records a quota exhaustion with a cooldown deadline.
// The provider is not selectable again until the deadline passes.
func (r *Registry) MarkProviderExhausted(ctx context.Context, providerID string, until time.Time) error {
	r.logger.Printf("Marking provider %s exhausted until %s", providerID, until.Format(time.RFC3339))
	return r.store.MarkProviderExhausted(ctx, providerID, until)
}

// MarkProviderHealthy records a success: failure counter resets to zero and
// any exhaustion deadline is cleared.
func (r *Registry) MarkProviderHealthy(ctx context.Context, providerID string) error {
	return r.store.MarkProviderHealthy(ctx, providerID)
}

// IncrementProviderFailures bumps the consecutive-failure counter for a
// provider after a non-quota failure.
func (r *Registry) IncrementProviderFailures(ctx context.Context, providerID string) error {
	return r.store.IncrementProviderFailures(ctx, providerID)
}

// SaveWorkflow persists a workflow definition.
func (r *Registry) SaveWorkflow(ctx context.Context, def *WorkflowDefinition) error {
	return r.store.SaveWorkflow(ctx, def)
}

// GetWorkflow returns a workflow definition by id. Stored definitions take
// precedence over built-in templates.
func (r *Registry) GetWorkflow(ctx context.Context, id string) (*WorkflowDefinition, error) {
	def, err := r.store.GetWorkflow(ctx, id)
	if err == nil {
		return def, nil
	}
	if builtin, ok := r.builtins[id]; ok {
		copied := builtin
		return &copied, nil
	}
	return nil, err
}

// ListWorkflows returns stored workflow definitions plus built-in templates
// not shadowed by a stored definition.
func (r *Registry) ListWorkflows(ctx context.Context) ([]WorkflowDefinition, error) {
	stored, err := r.store.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(stored))
	for _, def := range stored {
		seen[def.ID] = true
	}
	for id, builtin := range r.builtins {
		if !seen[id] {
			stored = append(stored, builtin)
		}
	}
	return stored, nil
}

// RecordUsage persists request usage metadata. Failures are logged and
// swallowed; usage recording never fails a request.
func (r *Registry) RecordUsage(ctx context.Context, usage *RequestUsage) {
	if err := r.store.RecordUsage(ctx, usage); err != nil {
		r.logger.Printf("Warning: failed to record usage for request %s: %v", usage.RequestID, err)
	}
}
