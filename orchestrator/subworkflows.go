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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"axonflow/conduit/orchestrator/catalog"
	"axonflow/conduit/orchestrator/media"
)

// ShippingEstimate is the structured result of a shipping-research task.
type ShippingEstimate struct {
	LengthCm   float64 `json:"length_cm"`
	WidthCm    float64 `json:"width_cm"`
	HeightCm   float64 `json:"height_cm"`
	WeightKg   float64 `json:"weight_kg"`
	Confidence string  `json:"confidence"` // low | medium | high
}

// shippingConfidenceLevels is the bounded confidence enum.
var shippingConfidenceLevels = map[string]bool{"low": true, "medium": true, "high": true}

// jsonObjectRe extracts the first brace-delimited object from model output.
var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

// mediaGenRetries is how many times image/audio generation is retried before
// the sub-workflow fails.
const mediaGenRetries = 2

// SubWorkflows runs the per-task-type pipelines. Each run updates its
// execution record to a terminal status.
type SubWorkflows struct {
	router    *media.Router
	registry  *catalog.Registry
	store     *ExecutionStore
	waterfall *WaterfallResolver
	tiers     *TierClassifier
	runner    *VideoRunnerClient
	logger    *log.Logger
}

// NewSubWorkflows wires the sub-workflow runners. tiers and runner may be
// nil; the corresponding paths then use the standard chain or fail.
func NewSubWorkflows(router *media.Router, registry *catalog.Registry, store *ExecutionStore, waterfall *WaterfallResolver, tiers *TierClassifier, runner *VideoRunnerClient) *SubWorkflows {
	return &SubWorkflows{
		router:    router,
		registry:  registry,
		store:     store,
		waterfall: waterfall,
		tiers:     tiers,
		runner:    runner,
		logger:    log.New(os.Stdout, "[SUBWORKFLOW] ", log.LstdFlags),
	}
}

// Run executes the sub-workflow for the execution's task type, writing the
// terminal status into the store.
func (s *SubWorkflows) Run(ctx context.Context, execID string, params *PrimeWorkflowParams, taskType TaskType) {
	_ = s.store.Update(ctx, execID, func(e *Execution) {
		if e.Status.Terminal() {
			return
		}
		e.Status = StatusRunning
	})

	var outcome subWorkflowOutcome
	switch taskType {
	case TaskTypeCode:
		outcome = s.runCodeExecution(ctx, params)
	case TaskTypeText:
		outcome = s.runTextGeneration(ctx, params)
	case TaskTypeVideo:
		outcome = s.runVideoRender(ctx, params)
	case TaskTypeImage:
		outcome = s.runMediaGeneration(ctx, params, catalog.WorkerImageGen)
	case TaskTypeAudio:
		outcome = s.runMediaGeneration(ctx, params, catalog.WorkerAudioGen)
	case TaskTypeShippingResearch:
		outcome = s.runShippingResearch(ctx, params)
	default:
		outcome = subWorkflowOutcome{status: StatusErrored, err: fmt.Sprintf("unknown task type %q", taskType)}
	}

	_ = s.store.Update(ctx, execID, func(e *Execution) {
		if e.Status.Terminal() {
			// The poll loop already closed this execution as timed out. A
			// late result must not reopen it.
			return
		}
		e.Status = outcome.status
		e.Output = outcome.output
		e.Error = outcome.err
		e.RunnerUsed = outcome.runnerUsed
		e.WaterfallPosition = outcome.waterfallPosition
		e.AttemptedModels = outcome.attemptedModels
	})
}

type subWorkflowOutcome struct {
	status            ExecutionStatus
	output            string
	err               string
	runnerUsed        string
	waterfallPosition int
	attemptedModels   []string
}

// runCodeExecution walks the effective waterfall. Every model failure is
// recorded; a fully failed waterfall quarantines the task.
func (s *SubWorkflows) runCodeExecution(ctx context.Context, params *PrimeWorkflowParams) subWorkflowOutcome {
	waterfall := s.waterfall.Resolve(ctx, params.Waterfall)
	s.logger.Printf("Code execution for task %s: waterfall %v", params.TaskID, waterfall)

	prompt := taskPrompt(params)
	var attempted []string
	var lastErr string

	for i, model := range waterfall {
		attempted = append(attempted, model)
		res := s.router.Route(ctx, media.SimpleRequest{
			RequestID:   params.TaskID,
			Worker:      catalog.WorkerTextGen,
			Prompt:      prompt,
			Options:     params.Options,
			Constraints: params.Constraints,
			PreferModel: model,
		})
		if res.Success {
			return subWorkflowOutcome{
				status:            StatusComplete,
				output:            res.Result.Text,
				runnerUsed:        res.Result.Model,
				waterfallPosition: i + 1,
				attemptedModels:   attempted,
			}
		}
		lastErr = res.Error
		s.logger.Printf("Waterfall position %d (%s) failed for task %s: %s", i+1, model, params.TaskID, res.Error)
	}

	return subWorkflowOutcome{
		status:          StatusQuarantined,
		err:             fmt.Sprintf("all %d waterfall models failed, last error: %s", len(waterfall), lastErr),
		attemptedModels: attempted,
	}
}

// runTextGeneration classifies the routing tier; the text-only tier simply
// prefers the cheap provider list, falling through to the standard chain.
func (s *SubWorkflows) runTextGeneration(ctx context.Context, params *PrimeWorkflowParams) subWorkflowOutcome {
	prompt := taskPrompt(params)

	req := media.SimpleRequest{
		RequestID:   params.TaskID,
		Worker:      catalog.WorkerTextGen,
		Prompt:      prompt,
		Options:     params.Options,
		Constraints: params.Constraints,
	}
	if s.tiers != nil {
		tier, reason := s.tiers.Classify(ctx, prompt, params.Options)
		s.logger.Printf("Task %s classified as tier %s (%s)", params.TaskID, tier, reason)
		if tier == media.TierTextOnly {
			req.PreferProvider = s.firstAvailableTextOnlyProvider(ctx)
		}
	}

	res := s.router.Route(ctx, req)
	if !res.Success {
		return subWorkflowOutcome{status: StatusErrored, err: res.Error}
	}
	return subWorkflowOutcome{
		status:     StatusComplete,
		output:     res.Result.Text,
		runnerUsed: res.Result.Model,
	}
}

// firstAvailableTextOnlyProvider picks the first text-only waterfall provider
// currently available for text-gen.
func (s *SubWorkflows) firstAvailableTextOnlyProvider(ctx context.Context) string {
	providers, err := s.registry.GetAvailableProviders(ctx, catalog.WorkerTextGen)
	if err != nil {
		return ""
	}
	available := make(map[string]bool, len(providers))
	for _, p := range providers {
		available[p.ID] = true
	}
	for _, id := range TextOnlyWaterfall {
		if available[id] {
			return id
		}
	}
	return ""
}

// runMediaGeneration is the shared validate → generate-with-retries pipeline
// for image and audio tasks.
func (s *SubWorkflows) runMediaGeneration(ctx context.Context, params *PrimeWorkflowParams, worker string) subWorkflowOutcome {
	prompt := taskPrompt(params)
	if strings.TrimSpace(prompt) == "" {
		return subWorkflowOutcome{status: StatusErrored, err: "prompt cannot be empty"}
	}

	var lastErr string
	for attempt := 0; attempt <= mediaGenRetries; attempt++ {
		res := s.router.Route(ctx, media.SimpleRequest{
			RequestID:   params.TaskID,
			Worker:      worker,
			Prompt:      prompt,
			Options:     params.Options,
			Constraints: params.Constraints,
		})
		if res.Success {
			out := res.Result.URL
			if out == "" {
				out = res.Result.Base64
			}
			return subWorkflowOutcome{
				status:     StatusComplete,
				output:     out,
				runnerUsed: res.Result.Model,
			}
		}
		lastErr = res.Error
		// A bad request will not improve on retry.
		if res.ErrorCode == media.ErrCodeProviderBadRequest || res.ErrorCode == media.ErrCodeInvalidRequest {
			break
		}
		s.logger.Printf("Generation attempt %d for task %s failed: %s", attempt+1, params.TaskID, res.Error)
	}
	return subWorkflowOutcome{status: StatusErrored, err: lastErr}
}

// runVideoRender submits a render job to the external runner and polls until
// it is done.
func (s *SubWorkflows) runVideoRender(ctx context.Context, params *PrimeWorkflowParams) subWorkflowOutcome {
	if s.runner == nil {
		return subWorkflowOutcome{status: StatusErrored, err: "no video runner configured"}
	}
	if len(params.Context.Timeline) == 0 {
		return subWorkflowOutcome{status: StatusErrored, err: "video task requires context.timeline"}
	}

	jobID, err := s.runner.Submit(ctx, params.TaskID, params.Context.Timeline)
	if err != nil {
		return subWorkflowOutcome{status: StatusErrored, err: fmt.Sprintf("submit render job: %v", err)}
	}
	s.logger.Printf("Render job %s submitted for task %s", jobID, params.TaskID)

	url, err := s.runner.WaitForCompletion(ctx, jobID)
	if err != nil {
		return subWorkflowOutcome{status: StatusErrored, err: err.Error()}
	}
	return subWorkflowOutcome{status: StatusComplete, output: url, runnerUsed: "video-runner"}
}

// runShippingResearch asks the single supported model for package dimensions
// and extracts a strict JSON object from its answer.
func (s *SubWorkflows) runShippingResearch(ctx context.Context, params *PrimeWorkflowParams) subWorkflowOutcome {
	product := params.Context.Product
	if product == nil || strings.TrimSpace(product.Name) == "" {
		return subWorkflowOutcome{status: StatusErrored, err: "shipping research requires context.product with a name"}
	}

	res := s.router.Route(ctx, media.SimpleRequest{
		RequestID:      params.TaskID,
		Worker:         catalog.WorkerTextGen,
		Prompt:         shippingPrompt(product),
		PreferProvider: "anthropic",
	})
	if !res.Success {
		return subWorkflowOutcome{status: StatusErrored, err: res.Error}
	}

	estimate, err := ExtractShippingEstimate(res.Result.Text)
	if err != nil {
		return subWorkflowOutcome{status: StatusErrored, err: err.Error()}
	}

	out, _ := json.Marshal(estimate)
	return subWorkflowOutcome{
		status:     StatusComplete,
		output:     string(out),
		runnerUsed: res.Result.Model,
	}
}

// shippingPrompt is deterministic: the same product always yields the same
// prompt.
func shippingPrompt(p *ProductInfo) string {
	var b strings.Builder
	b.WriteString("Estimate the shipping package dimensions and weight for the following product. ")
	b.WriteString("Respond with ONLY a JSON object with keys length_cm, width_cm, height_cm, weight_kg (numbers) ")
	b.WriteString(`and confidence ("low", "medium" or "high"). No prose.` + "\n\n")
	b.WriteString("Product: " + p.Name)
	if p.Category != "" {
		b.WriteString("\nCategory: " + p.Category)
	}
	if p.Description != "" {
		b.WriteString("\nDescription: " + p.Description)
	}
	return b.String()
}

// ExtractShippingEstimate parses a model answer into a validated estimate.
// Markdown fences are stripped and the first {...} object is used.
func ExtractShippingEstimate(text string) (*ShippingEstimate, error) {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")

	obj := jsonObjectRe.FindString(cleaned)
	if obj == "" {
		return nil, fmt.Errorf("no JSON object found in model output")
	}

	var est ShippingEstimate
	if err := json.Unmarshal([]byte(obj), &est); err != nil {
		return nil, fmt.Errorf("invalid JSON in model output: %w", err)
	}

	if est.LengthCm <= 0 || est.WidthCm <= 0 || est.HeightCm <= 0 || est.WeightKg <= 0 {
		return nil, fmt.Errorf("shipping estimate has non-positive dimensions: %+v", est)
	}
	est.Confidence = strings.ToLower(est.Confidence)
	if !shippingConfidenceLevels[est.Confidence] {
		return nil, fmt.Errorf("invalid confidence %q", est.Confidence)
	}
	return &est, nil
}

// taskPrompt builds the routed prompt from the task title and description.
func taskPrompt(params *PrimeWorkflowParams) string {
	if params.Description != "" {
		return params.Title + "\n\n" + params.Description
	}
	return params.Title
}

// VideoRunnerClient talks to the external render runner. Requests carry the
// CF-access service token headers when configured.
type VideoRunnerClient struct {
	baseURL        string
	client         HTTPClient
	cfClientID     string
	cfClientSecret string
	pollStep       time.Duration
	maxWait        time.Duration
	logger         *log.Logger
}

// VideoRunnerOption configures the client.
type VideoRunnerOption func(*VideoRunnerClient)

// WithRunnerHTTPClient overrides the HTTP client.
func WithRunnerHTTPClient(client HTTPClient) VideoRunnerOption {
	return func(c *VideoRunnerClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithRunnerPolling overrides the linear backoff step and total budget
// (tests).
func WithRunnerPolling(step, maxWait time.Duration) VideoRunnerOption {
	return func(c *VideoRunnerClient) {
		c.pollStep = step
		c.maxWait = maxWait
	}
}

// WithCFAccess sets the Cloudflare Access service token headers.
func WithCFAccess(clientID, clientSecret string) VideoRunnerOption {
	return func(c *VideoRunnerClient) {
		c.cfClientID = clientID
		c.cfClientSecret = clientSecret
	}
}

// NewVideoRunnerClient creates a runner client for the given base URL.
func NewVideoRunnerClient(baseURL string, opts ...VideoRunnerOption) *VideoRunnerClient {
	c := &VideoRunnerClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
		pollStep: 5 * time.Second,
		maxWait:  10 * time.Minute,
		logger:   log.New(os.Stdout, "[VIDEO_RUNNER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type runnerJob struct {
	ID     string `json:"id"`
	Status string `json:"status"` // queued | processing | done | failed
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Submit posts a render job and returns its id.
func (c *VideoRunnerClient) Submit(ctx context.Context, taskID string, timeline json.RawMessage) (string, error) {
	body, err := json.Marshal(map[string]any{
		"task_id":  taskID,
		"timeline": timeline,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCFHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("runner returned status %d", resp.StatusCode)
	}

	var job runnerJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", fmt.Errorf("decode runner response: %w", err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("runner returned no job id")
	}
	return job.ID, nil
}

// WaitForCompletion polls the job with linear backoff until it is done,
// failed, or the wait budget is spent.
func (c *VideoRunnerClient) WaitForCompletion(ctx context.Context, jobID string) (string, error) {
	deadline := time.Now().Add(c.maxWait)
	wait := c.pollStep

	for attempt := 1; ; attempt++ {
		job, err := c.getJob(ctx, jobID)
		if err != nil {
			c.logger.Printf("Poll %d for job %s failed: %v", attempt, jobID, err)
		} else {
			switch job.Status {
			case "done":
				return job.URL, nil
			case "failed":
				if job.Error != "" {
					return "", fmt.Errorf("render job failed: %s", job.Error)
				}
				return "", fmt.Errorf("render job failed")
			}
		}

		if time.Now().Add(wait).After(deadline) {
			return "", fmt.Errorf("render job %s did not complete within %s", jobID, c.maxWait)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		wait += c.pollStep
	}
}

func (c *VideoRunnerClient) getJob(ctx context.Context, jobID string) (*runnerJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	c.setCFHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runner returned status %d", resp.StatusCode)
	}

	var job runnerJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *VideoRunnerClient) setCFHeaders(req *http.Request) {
	if c.cfClientID != "" {
		req.Header.Set("CF-Access-Client-Id", c.cfClientID)
		req.Header.Set("CF-Access-Client-Secret", c.cfClientSecret)
	}
}
