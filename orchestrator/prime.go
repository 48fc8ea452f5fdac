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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"axonflow/conduit/orchestrator/media"
)

// ProductInfo describes the product of a shipping-research task.
type ProductInfo struct {
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
}

// TaskContext carries the strong classification signals of a task.
type TaskContext struct {
	Repo     string          `json:"repo,omitempty"`
	Timeline json.RawMessage `json:"timeline,omitempty"`
	Product  *ProductInfo    `json:"product,omitempty"`
}

// TaskHints are caller-supplied routing hints, used as a last-resort
// tiebreaker during classification.
type TaskHints struct {
	Workflow string `json:"workflow,omitempty"`
}

// PrimeWorkflowParams is the uniform parameter envelope accepted by the entry
// orchestrator.
type PrimeWorkflowParams struct {
	TaskID      string `json:"task_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Context TaskContext `json:"context,omitempty"`
	Hints   TaskHints   `json:"hints,omitempty"`

	Options     media.MediaOptions        `json:"options,omitempty"`
	Constraints *media.RequestConstraints `json:"constraints,omitempty"`
	Waterfall   WaterfallParams           `json:"waterfall,omitempty"`

	CallbackURL string `json:"callback_url,omitempty"`
}

// Validate rejects envelopes missing the required identity fields.
func (p *PrimeWorkflowParams) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// Prime orchestrator defaults.
const (
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPollAttempts = 60
)

// PrimeOrchestrator is the single public entry point: it validates,
// classifies, launches the sub-workflow, polls for completion, applies the
// defense-in-depth validator, and posts the optional callback.
type PrimeOrchestrator struct {
	store     *ExecutionStore
	subs      *SubWorkflows
	callbacks *CallbackSender
	metrics   *MetricsCollector
	logger    *log.Logger

	pollInterval    time.Duration
	maxPollAttempts int
}

// PrimeOption configures the orchestrator.
type PrimeOption func(*PrimeOrchestrator)

// WithPollInterval overrides the status poll interval.
func WithPollInterval(d time.Duration) PrimeOption {
	return func(o *PrimeOrchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithMaxPollAttempts overrides the poll budget.
func WithMaxPollAttempts(n int) PrimeOption {
	return func(o *PrimeOrchestrator) {
		if n > 0 {
			o.maxPollAttempts = n
		}
	}
}

// WithPrimeMetrics installs a metrics collector.
func WithPrimeMetrics(m *MetricsCollector) PrimeOption {
	return func(o *PrimeOrchestrator) {
		o.metrics = m
	}
}

// WithPrimeLogger overrides the default logger.
func WithPrimeLogger(logger *log.Logger) PrimeOption {
	return func(o *PrimeOrchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewPrimeOrchestrator creates the entry orchestrator. callbacks may be nil
// when no callback delivery is desired.
func NewPrimeOrchestrator(store *ExecutionStore, subs *SubWorkflows, callbacks *CallbackSender, opts ...PrimeOption) *PrimeOrchestrator {
	o := &PrimeOrchestrator{
		store:           store,
		subs:            subs,
		callbacks:       callbacks,
		logger:          log.New(os.Stdout, "[PRIME] ", log.LstdFlags),
		pollInterval:    DefaultPollInterval,
		maxPollAttempts: DefaultMaxPollAttempts,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute accepts a task, registers its execution, and runs it in the
// background. The returned id is the execution id to poll via Status.
func (o *PrimeOrchestrator) Execute(ctx context.Context, executionID string, params *PrimeWorkflowParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	if executionID == "" {
		executionID = uuid.NewString()
	}

	taskType, reason := ClassifyTaskType(params)
	o.logger.Printf("Task %s classified as %s (%s)", params.TaskID, taskType, reason)

	exec := &Execution{
		ID:       executionID,
		TaskID:   params.TaskID,
		TaskType: taskType,
		Status:   StatusQueued,
	}
	if err := o.store.Create(ctx, exec); err != nil {
		return "", err
	}

	go o.run(executionID, params, taskType)
	return executionID, nil
}

// Status returns the current execution snapshot.
func (o *PrimeOrchestrator) Status(ctx context.Context, executionID string) (*Execution, error) {
	return o.store.Get(ctx, executionID)
}

// run drives one execution to its terminal state. It owns the sub-workflow
// goroutine, the poll loop, the output validator, and the callback.
func (o *PrimeOrchestrator) run(executionID string, params *PrimeWorkflowParams, taskType TaskType) {
	ctx := context.Background()
	start := time.Now()

	go o.subs.Run(ctx, executionID, params, taskType)

	exec, timedOut := o.pollUntilTerminal(ctx, executionID)
	if timedOut {
		_ = o.store.Update(ctx, executionID, func(e *Execution) {
			e.Status = StatusErrored
			e.Error = fmt.Sprintf("workflow timed out after %d poll attempts", o.maxPollAttempts)
		})
		exec, _ = o.store.Get(ctx, executionID)
	}

	// Defense in depth: a reported success whose output looks like a failure
	// is downgraded before anyone sees it.
	if exec != nil && exec.Status == StatusComplete && validatedTaskType(taskType) {
		if verr := ValidateTaskOutput(exec.Output); verr != nil {
			if indicator := MatchFailureIndicator(exec.Output); indicator != "" {
				o.logger.Printf("Downgrading task %s: output matched failure indicator %q", params.TaskID, indicator)
			} else {
				o.logger.Printf("Downgrading task %s: %v", params.TaskID, verr)
			}
			_ = o.store.Update(ctx, executionID, func(e *Execution) {
				e.Status = StatusErrored
				e.Error = verr.Error()
			})
		}
	}

	durationMs := time.Since(start).Milliseconds()
	if durationMs < 1 {
		durationMs = 1
	}
	_ = o.store.Update(ctx, executionID, func(e *Execution) {
		e.DurationMs = durationMs
	})
	exec, _ = o.store.Get(ctx, executionID)
	if exec == nil {
		return
	}

	if o.metrics != nil {
		o.metrics.RecordExecution(string(taskType), exec.Status == StatusComplete)
	}
	o.logger.Printf("Task %s finished with status %s in %dms", params.TaskID, exec.Status, durationMs)

	o.sendCallback(ctx, params, exec)
}

// pollUntilTerminal watches the execution at the configured interval. It
// returns the last snapshot and whether the poll budget ran out first.
func (o *PrimeOrchestrator) pollUntilTerminal(ctx context.Context, executionID string) (*Execution, bool) {
	for attempt := 0; attempt < o.maxPollAttempts; attempt++ {
		exec, err := o.store.Get(ctx, executionID)
		if err != nil {
			// Tolerated: only the overall budget aborts.
			o.logger.Printf("Poll %d for execution %s failed: %v", attempt+1, executionID, err)
		} else if exec.Status.Terminal() {
			return exec, false
		}
		time.Sleep(o.pollInterval)
	}
	exec, _ := o.store.Get(ctx, executionID)
	return exec, exec == nil || !exec.Status.Terminal()
}

func (o *PrimeOrchestrator) sendCallback(ctx context.Context, params *PrimeWorkflowParams, exec *Execution) {
	if o.callbacks == nil || params.CallbackURL == "" {
		return
	}

	status := "failed"
	switch exec.Status {
	case StatusComplete:
		status = "completed"
	case StatusQuarantined:
		status = "quarantined"
	}

	err := o.callbacks.Send(ctx, params.CallbackURL, CallbackPayload{
		TaskID:     params.TaskID,
		Status:     status,
		TaskType:   string(exec.TaskType),
		RunnerUsed: exec.RunnerUsed,
		Output:     exec.Output,
		Error:      exec.Error,
		DurationMs: exec.DurationMs,
	})
	if err != nil {
		// Best-effort: callback failure never changes the task outcome.
		o.logger.Printf("Callback for task %s failed: %v", params.TaskID, err)
	}
}

// validatedTaskType reports whether the defense-in-depth output validator
// applies. Media outputs are URLs or payload references, not prose.
func validatedTaskType(t TaskType) bool {
	return t == TaskTypeCode || t == TaskTypeText
}
