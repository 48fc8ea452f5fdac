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
	"fmt"
	"sort"
	"sync"
	"time"
)

// AdapterRequest is the request an adapter translates into its provider's
// native API. The router resolves credentials and gateway routing before the
// adapter sees the request.
type AdapterRequest struct {
	RequestID    string
	Worker       string
	Prompt       string
	SystemPrompt string

	// Model is the provider-native model id.
	Model string

	// APIKey is the resolved provider credential. Empty for local providers
	// and for gateway-routed calls.
	APIKey string

	// Gateway carries the effective base URL and, when gateway-routed, the
	// gateway bearer token.
	Gateway GatewayRoute

	Options MediaOptions

	// Timeout bounds the adapter call, including any provider-side polling.
	Timeout time.Duration
}

// Adapter translates internal requests into one provider's native API.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// ProviderID returns the catalog provider id this adapter serves.
	ProviderID() string

	// SupportedWorkers returns the worker ids this adapter can execute.
	SupportedWorkers() []string

	// Execute performs one generation call. A non-2xx provider response is
	// surfaced as an error built with AdapterHTTPError so the taxonomy can
	// classify it.
	Execute(ctx context.Context, req AdapterRequest) (*MediaResult, error)

	// CheckHealth probes the provider with a lightweight request.
	CheckHealth(ctx context.Context) error
}

// StreamingAdapter extends Adapter with streaming text support. The returned
// channel yields deltas lazily and is closed after the terminal Done delta.
type StreamingAdapter interface {
	Adapter

	ExecuteStream(ctx context.Context, req AdapterRequest) (<-chan StreamDelta, error)
}

// AdapterRegistry keeps adapters keyed by provider id.
// It is safe for concurrent use.
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewAdapterRegistry creates an empty adapter registry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. An adapter registered under an existing provider
// id replaces the previous one.
func (r *AdapterRegistry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ProviderID()] = a
}

// Get returns the adapter for a provider id.
func (r *AdapterRegistry) Get(providerID string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[providerID]
	return a, ok
}

// List returns the sorted provider ids of all registered adapters.
func (r *AdapterRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SupportsWorker reports whether the adapter for providerID serves workerID.
func (r *AdapterRegistry) SupportsWorker(providerID, workerID string) bool {
	a, ok := r.Get(providerID)
	if !ok {
		return false
	}
	for _, w := range a.SupportedWorkers() {
		if w == workerID {
			return true
		}
	}
	return false
}

// CollectStream drains a delta channel into the final text. Used by callers
// that requested streaming transport but need the aggregate.
func CollectStream(ctx context.Context, deltas <-chan StreamDelta) (string, error) {
	var b []byte
	for {
		select {
		case <-ctx.Done():
			return string(b), ctx.Err()
		case d, ok := <-deltas:
			if !ok {
				return string(b), nil
			}
			b = append(b, d.Text...)
			if d.Done {
				return string(b), nil
			}
		}
	}
}

// DefaultAdapterTimeout returns the default per-call timeout for a worker.
// Async prediction adapters poll within this budget.
func DefaultAdapterTimeout(workerID string) time.Duration {
	switch workerID {
	case "video-gen":
		return 300 * time.Second
	case "image-gen":
		return 60 * time.Second
	default:
		return 120 * time.Second
	}
}

// ErrWorkerUnsupported builds the error returned when an adapter receives a
// request for a worker it does not serve.
func ErrWorkerUnsupported(providerID, workerID string) error {
	return fmt.Errorf("%s adapter does not support worker %q", providerID, workerID)
}
