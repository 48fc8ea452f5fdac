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
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation. It backs tests and
// single-node deployments that run without PostgreSQL.
type MemoryStore struct {
	mu        sync.RWMutex
	workers   map[string]Worker
	providers map[string]Provider
	// workerProviders maps workerID -> providerID -> per-worker priority
	// override. A nil entry means "use the provider's global priority".
	workerProviders map[string]map[string]*int
	models          map[string]Model
	status          map[string]*ProviderStatus
	workflows       map[string]WorkflowDefinition
	usage           []RequestUsage
}

// NewMemoryStore creates an empty in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workers:         make(map[string]Worker),
		providers:       make(map[string]Provider),
		workerProviders: make(map[string]map[string]*int),
		models:          make(map[string]Model),
		status:          make(map[string]*ProviderStatus),
		workflows:       make(map[string]WorkflowDefinition),
	}
}

// AddWorker registers a worker.
func (s *MemoryStore) AddWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = w
}

// AddProvider registers a provider.
func (s *MemoryStore) AddProvider(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
}

// MapProviderToWorker adds a worker-provider mapping. Pass a non-nil
// priority to override the provider's global priority for this worker.
func (s *MemoryStore) MapProviderToWorker(workerID, providerID string, priority *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workerProviders[workerID] == nil {
		s.workerProviders[workerID] = make(map[string]*int)
	}
	s.workerProviders[workerID][providerID] = priority
}

// AddModel registers a model.
func (s *MemoryStore) AddModel(m Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID] = m
}

// GetWorker implements Store.
func (s *MemoryStore) GetWorker(_ context.Context, id string) (*Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %q: %w", id, ErrNotFound)
	}
	return &w, nil
}

// GetProvider implements Store.
func (s *MemoryStore) GetProvider(_ context.Context, id string) (*Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", id, ErrNotFound)
	}
	return &p, nil
}

// GetProvidersForWorker implements Store. Per-worker priority overrides the
// provider's global priority when present.
func (s *MemoryStore) GetProvidersForWorker(_ context.Context, workerID string) ([]Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mapping := s.workerProviders[workerID]
	providers := make([]Provider, 0, len(mapping))
	for providerID, override := range mapping {
		p, ok := s.providers[providerID]
		if !ok {
			continue
		}
		if override != nil {
			p.Priority = *override
		}
		providers = append(providers, p)
	}

	sort.Slice(providers, func(i, j int) bool {
		if providers[i].Priority != providers[j].Priority {
			return providers[i].Priority < providers[j].Priority
		}
		return providers[i].ID < providers[j].ID
	})

	return providers, nil
}

// GetModelsForProvider implements Store.
func (s *MemoryStore) GetModelsForProvider(_ context.Context, providerID, workerID string) ([]Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var models []Model
	for _, m := range s.models {
		if m.ProviderID == providerID && m.WorkerID == workerID && m.Enabled {
			models = append(models, m)
		}
	}

	sort.Slice(models, func(i, j int) bool {
		if models[i].Priority != models[j].Priority {
			return models[i].Priority < models[j].Priority
		}
		return models[i].ID < models[j].ID
	})

	return models, nil
}

// GetProviderStatus implements Store.
func (s *MemoryStore) GetProviderStatus(_ context.Context, providerID string) (*ProviderStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.status[providerID]
	if !ok {
		return &ProviderStatus{ProviderID: providerID, Healthy: true}, nil
	}
	copied := *st
	return &copied, nil
}

// MarkProviderExhausted implements Store.
func (s *MemoryStore) MarkProviderExhausted(_ context.Context, providerID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.statusRowLocked(providerID)
	now := time.Now()
	st.Healthy = false
	st.LastFailureAt = &now
	st.ConsecutiveFailures++
	st.MarkedExhaustedUntil = &until
	return nil
}

// MarkProviderHealthy implements Store.
func (s *MemoryStore) MarkProviderHealthy(_ context.Context, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.statusRowLocked(providerID)
	now := time.Now()
	st.Healthy = true
	st.LastSuccessAt = &now
	st.ConsecutiveFailures = 0
	st.MarkedExhaustedUntil = nil
	return nil
}

// IncrementProviderFailures implements Store.
func (s *MemoryStore) IncrementProviderFailures(_ context.Context, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.statusRowLocked(providerID)
	now := time.Now()
	st.LastFailureAt = &now
	st.ConsecutiveFailures++
	if st.ConsecutiveFailures >= failureUnhealthyThreshold {
		st.Healthy = false
	}
	return nil
}

// statusRowLocked returns the status row for a provider, creating it if
// needed. Caller must hold the write lock.
func (s *MemoryStore) statusRowLocked(providerID string) *ProviderStatus {
	st, ok := s.status[providerID]
	if !ok {
		st = &ProviderStatus{ProviderID: providerID, Healthy: true}
		s.status[providerID] = st
	}
	return st
}

// SaveWorkflow implements Store.
func (s *MemoryStore) SaveWorkflow(_ context.Context, def *WorkflowDefinition) error {
	if def == nil {
		return fmt.Errorf("workflow definition cannot be nil")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[def.ID] = *def
	return nil
}

// GetWorkflow implements Store.
func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	return &def, nil
}

// ListWorkflows implements Store.
func (s *MemoryStore) ListWorkflows(_ context.Context) ([]WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]WorkflowDefinition, 0, len(s.workflows))
	for _, def := range s.workflows {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// RecordUsage implements Store.
func (s *MemoryStore) RecordUsage(_ context.Context, usage *RequestUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, *usage)
	return nil
}

// Usage returns a copy of all recorded usage rows (test helper).
func (s *MemoryStore) Usage() []RequestUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RequestUsage, len(s.usage))
	copy(out, s.usage)
	return out
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
