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
	"regexp"
	"sync"
	"time"

	"axonflow/conduit/orchestrator/catalog"
	"axonflow/conduit/orchestrator/media"
)

// WorkflowEngine executes multi-step workflow definitions: groups of steps
// run sequentially, steps within a group run concurrently, and each step's
// prompt template is expanded from the request variables plus the outputs of
// completed steps.
type WorkflowEngine struct {
	router  *media.Router
	logger  *log.Logger
	metrics *MetricsCollector
}

// WorkflowEngineOption configures the engine.
type WorkflowEngineOption func(*WorkflowEngine)

// WithWorkflowLogger overrides the default logger.
func WithWorkflowLogger(logger *log.Logger) WorkflowEngineOption {
	return func(e *WorkflowEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithWorkflowMetrics installs a metrics collector.
func WithWorkflowMetrics(m *MetricsCollector) WorkflowEngineOption {
	return func(e *WorkflowEngine) {
		e.metrics = m
	}
}

// NewWorkflowEngine creates a workflow engine over the media router.
func NewWorkflowEngine(router *media.Router, opts ...WorkflowEngineOption) *WorkflowEngine {
	e := &WorkflowEngine{
		router: router,
		logger: log.New(os.Stdout, "[WORKFLOW_ENGINE] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WorkflowRequest is one workflow execution request.
type WorkflowRequest struct {
	RequestID   string                    `json:"request_id,omitempty"`
	Variables   map[string]string         `json:"variables,omitempty"`
	Constraints *media.RequestConstraints `json:"constraints,omitempty"`
	Options     map[string]map[string]any `json:"options,omitempty"` // per-step option overrides, keyed by step id
}

// StepResult is the outcome of one workflow step.
type StepResult struct {
	StepID string             `json:"step_id"`
	Result *media.MediaResult `json:"result,omitempty"`
	Meta   media.StepMeta     `json:"meta,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// WorkflowResult is the outcome of a workflow execution. On failure, Outputs
// holds the partial results of the steps that completed.
type WorkflowResult struct {
	WorkflowID string                 `json:"workflow_id"`
	Success    bool                   `json:"success"`
	Outputs    map[string]*StepResult `json:"outputs"` // keyed by output_key
	Error      string                 `json:"error,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
}

// templateVarRe matches {{name}} placeholders, with optional inner spaces.
var templateVarRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// Execute runs a workflow definition to completion or first failure.
func (e *WorkflowEngine) Execute(ctx context.Context, def *catalog.WorkflowDefinition, req WorkflowRequest) (*WorkflowResult, error) {
	if def == nil {
		return nil, fmt.Errorf("workflow definition cannot be nil")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &WorkflowResult{
		WorkflowID: def.ID,
		Outputs:    make(map[string]*StepResult),
	}

	groups, err := e.executionGroups(def)
	if err != nil {
		return nil, err
	}
	e.logger.Printf("Executing workflow %s: %d steps in %d groups", def.ID, len(def.Steps), len(groups))

	// values holds template expansion material: request variables first,
	// then completed step outputs keyed by output_key.
	values := make(map[string]string, len(req.Variables))
	for k, v := range req.Variables {
		values[k] = v
	}

	for gi, group := range groups {
		stepResults, groupErr := e.runGroup(ctx, def, group, values, &req)

		for _, sr := range stepResults {
			step, _ := def.Step(sr.StepID)
			result.Outputs[step.OutputKey] = sr
			if sr.Result != nil {
				values[step.OutputKey] = outputValue(sr.Result)
			}
			if e.metrics != nil {
				e.metrics.RecordWorkflowStep(def.ID, sr.StepID, sr.Error == "")
			}
		}

		if groupErr != nil {
			result.Error = groupErr.Error()
			result.DurationMs = time.Since(start).Milliseconds()
			e.logger.Printf("Workflow %s failed in group %d: %v", def.ID, gi, groupErr)
			return result, nil
		}
	}

	result.Success = true
	result.DurationMs = time.Since(start).Milliseconds()
	e.logger.Printf("Workflow %s completed in %dms", def.ID, result.DurationMs)
	return result, nil
}

// runGroup executes one group of steps concurrently and returns every step's
// result plus the first failure, if any.
func (e *WorkflowEngine) runGroup(ctx context.Context, def *catalog.WorkflowDefinition, group []string, values map[string]string, req *WorkflowRequest) ([]*StepResult, error) {
	results := make([]*StepResult, len(group))

	var wg sync.WaitGroup
	for i, stepID := range group {
		step, ok := def.Step(stepID)
		if !ok {
			return nil, fmt.Errorf("unknown step %q", stepID)
		}

		wg.Add(1)
		go func(i int, step *catalog.WorkflowStep) {
			defer wg.Done()
			results[i] = e.runStep(ctx, step, values, req)
		}(i, step)
	}
	wg.Wait()

	for _, sr := range results {
		if sr.Error != "" {
			return results, fmt.Errorf("Step %s failed: %s", sr.StepID, sr.Error)
		}
	}
	return results, nil
}

// runStep expands the step's prompt template and routes it.
func (e *WorkflowEngine) runStep(ctx context.Context, step *catalog.WorkflowStep, values map[string]string, req *WorkflowRequest) *StepResult {
	sr := &StepResult{StepID: step.ID}

	prompt := e.expandTemplate(step.ID, step.PromptTemplate, values)

	constraints := req.Constraints.Merge(stepConstraints(step))
	options := stepOptions(step, req.Options[step.ID])

	routeRes := e.router.Route(ctx, media.SimpleRequest{
		RequestID:   req.RequestID,
		Worker:      step.Worker,
		Prompt:      prompt,
		Options:     options,
		Constraints: constraints,
	})
	if !routeRes.Success {
		sr.Error = routeRes.Error
		return sr
	}

	sr.Result = routeRes.Result
	sr.Meta = routeRes.Meta
	return sr
}

// expandTemplate substitutes {{var}} placeholders. Unknown names are kept
// literal so a typo shows up in the generated prompt instead of vanishing.
func (e *WorkflowEngine) expandTemplate(stepID, template string, values map[string]string) string {
	return templateVarRe.ReplaceAllStringFunc(template, func(match string) string {
		name := templateVarRe.FindStringSubmatch(match)[1]
		if v, ok := values[name]; ok {
			return v
		}
		e.logger.Printf("WARN: step %s references unknown template variable %q", stepID, name)
		return match
	})
}

// executionGroups returns the layer partition to execute. An explicit
// ParallelGroups declaration is authoritative; otherwise layers are derived
// by topological batching over step dependencies.
func (e *WorkflowEngine) executionGroups(def *catalog.WorkflowDefinition) ([][]string, error) {
	if len(def.ParallelGroups) > 0 {
		return def.ParallelGroups, nil
	}

	done := make(map[string]bool, len(def.Steps))
	remaining := make([]catalog.WorkflowStep, len(def.Steps))
	copy(remaining, def.Steps)

	var groups [][]string
	for len(remaining) > 0 {
		var batch []string
		var next []catalog.WorkflowStep
		for _, step := range remaining {
			dep := step.DependsOnStep()
			if dep == "" || done[dep] {
				batch = append(batch, step.ID)
			} else {
				next = append(next, step)
			}
		}
		if len(batch) == 0 {
			return nil, fmt.Errorf("cannot resolve workflow dependencies")
		}
		for _, id := range batch {
			done[id] = true
		}
		groups = append(groups, batch)
		remaining = next
	}
	return groups, nil
}

// outputValue picks the template-substitutable value of a step result.
func outputValue(r *media.MediaResult) string {
	if r.Text != "" {
		return r.Text
	}
	if r.URL != "" {
		return r.URL
	}
	return r.Base64
}

// stepConstraints decodes a step's constraint map into typed constraints.
func stepConstraints(step *catalog.WorkflowStep) *media.RequestConstraints {
	if len(step.Constraints) == 0 {
		return nil
	}
	raw, err := json.Marshal(step.Constraints)
	if err != nil {
		return nil
	}
	var c media.RequestConstraints
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	return &c
}

// stepOptions decodes a step's option map, overlaid with per-request
// overrides for the step.
func stepOptions(step *catalog.WorkflowStep, overrides map[string]any) media.MediaOptions {
	merged := make(map[string]any, len(step.Options)+len(overrides))
	for k, v := range step.Options {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	if len(merged) == 0 {
		return media.MediaOptions{}
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return media.MediaOptions{}
	}
	var opts media.MediaOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return media.MediaOptions{}
	}
	return opts
}
