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
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ExecutionStatus is the lifecycle state of a prime execution.
type ExecutionStatus string

const (
	StatusQueued      ExecutionStatus = "queued"
	StatusRunning     ExecutionStatus = "running"
	StatusPaused      ExecutionStatus = "paused"
	StatusComplete    ExecutionStatus = "complete"
	StatusErrored     ExecutionStatus = "errored"
	StatusTerminated  ExecutionStatus = "terminated"
	StatusWaiting     ExecutionStatus = "waiting"
	StatusQuarantined ExecutionStatus = "quarantined"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusComplete, StatusErrored, StatusTerminated, StatusQuarantined:
		return true
	}
	return false
}

// Execution is the tracked state of one prime workflow run.
type Execution struct {
	ID       string   `json:"id"`
	TaskID   string   `json:"task_id"`
	TaskType TaskType `json:"task_type"`

	Status ExecutionStatus `json:"status"`
	Output string          `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`

	RunnerUsed        string   `json:"runner_used,omitempty"`
	WaterfallPosition int      `json:"waterfall_position,omitempty"`
	AttemptedModels   []string `json:"attempted_models,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// ErrDuplicateExecution is returned when an execution id is already in use.
var ErrDuplicateExecution = errors.New("execution id already exists")

// ErrExecutionNotFound is returned for unknown execution ids.
var ErrExecutionNotFound = errors.New("execution not found")

// executionGuardTTL bounds how long a claimed execution id stays reserved in
// Redis.
const executionGuardTTL = 24 * time.Hour

// ExecutionStore tracks executions in memory. When a Redis client is
// configured, execution ids are additionally claimed via SETNX so duplicate
// submissions are rejected across replicas.
type ExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*Execution

	redis  *redis.Client
	logger *log.Logger
}

// ExecutionStoreOption configures the store.
type ExecutionStoreOption func(*ExecutionStore)

// WithRedisGuard enables the cross-replica duplicate-id guard.
func WithRedisGuard(client *redis.Client) ExecutionStoreOption {
	return func(s *ExecutionStore) {
		s.redis = client
	}
}

// WithExecutionLogger overrides the default logger.
func WithExecutionLogger(logger *log.Logger) ExecutionStoreOption {
	return func(s *ExecutionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewExecutionStore creates an execution store.
func NewExecutionStore(opts ...ExecutionStoreOption) *ExecutionStore {
	s := &ExecutionStore{
		executions: make(map[string]*Execution),
		logger:     log.New(os.Stdout, "[EXECUTIONS] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new execution. A reused id yields ErrDuplicateExecution
// and leaves the existing execution untouched.
func (s *ExecutionStore) Create(ctx context.Context, exec *Execution) error {
	if exec.ID == "" {
		return errors.New("execution id cannot be empty")
	}

	if s.redis != nil {
		claimed, err := s.redis.SetNX(ctx, "conduit:execution:"+exec.ID, "1", executionGuardTTL).Result()
		if err != nil {
			// An unreachable guard degrades to the in-memory check.
			s.logger.Printf("Redis duplicate guard unavailable: %v", err)
		} else if !claimed {
			return ErrDuplicateExecution
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[exec.ID]; exists {
		return ErrDuplicateExecution
	}

	now := time.Now()
	exec.CreatedAt = now
	exec.UpdatedAt = now
	if exec.Status == "" {
		exec.Status = StatusQueued
	}
	copied := *exec
	s.executions[exec.ID] = &copied
	return nil
}

// Get returns a snapshot of an execution.
func (s *ExecutionStore) Get(_ context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	copied := *exec
	return &copied, nil
}

// Update applies a mutation to an execution under the store lock.
func (s *ExecutionStore) Update(_ context.Context, id string, mutate func(*Execution)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return ErrExecutionNotFound
	}
	mutate(exec)
	exec.UpdatedAt = time.Now()
	return nil
}
