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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"axonflow/conduit/common/usage"
	"axonflow/conduit/orchestrator/catalog"
	"axonflow/conduit/orchestrator/media"
	"axonflow/conduit/orchestrator/media/anthropic"
	"axonflow/conduit/orchestrator/media/bedrock"
	"axonflow/conduit/orchestrator/media/elevenlabs"
	"axonflow/conduit/orchestrator/media/gemini"
	"axonflow/conduit/orchestrator/media/ideogram"
	"axonflow/conduit/orchestrator/media/openai"
	"axonflow/conduit/orchestrator/media/replicate"
	"axonflow/conduit/orchestrator/media/vllm"
	"axonflow/conduit/orchestrator/media/zai"
)

// Shared service components, wired once by initializeComponents.
var (
	serviceConfig     *Config
	catalogDB         *sql.DB
	catalogRegistry   *catalog.Registry
	adapterRegistry   *media.AdapterRegistry
	mediaRouter       *media.Router
	workflowEngine    *WorkflowEngine
	tierClassifier    *TierClassifier
	waterfallResolver *WaterfallResolver
	executionStore    *ExecutionStore
	subWorkflows      *SubWorkflows
	primeOrchestrator *PrimeOrchestrator
	metricsCollector  *MetricsCollector
	usageRecorder     *usage.Recorder

	runLogger = log.New(os.Stdout, "[ORCHESTRATOR] ", log.LstdFlags)
)

// Run starts the orchestrator HTTP service. It blocks until the listener
// fails.
func Run() {
	cfg, err := LoadConfig()
	if err != nil {
		runLogger.Fatalf("Configuration error: %v", err)
	}
	initializeComponents(cfg)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(newHTTPRouter())

	runLogger.Printf("Conduit orchestrator listening on port %s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, handler))
}

// initializeComponents wires the catalog, router, sub-workflows, and entry
// orchestrator from configuration. A missing Postgres or Redis degrades to
// the in-memory equivalents with a warning; a missing provider credential
// simply keeps that provider out of the chain.
func initializeComponents(cfg *Config) {
	serviceConfig = cfg
	credentials := media.LoadEnvCredentials()

	var store catalog.Store
	switch {
	case cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err == nil {
			err = db.Ping()
		}
		if err != nil {
			runLogger.Printf("WARNING: PostgreSQL unavailable (%v), using built-in catalog", err)
			store = defaultCatalog(credentials)
		} else {
			catalogDB = db
			store = catalog.NewPostgresStore(db)
			runLogger.Printf("Catalog storage: PostgreSQL")
		}
	default:
		store = defaultCatalog(credentials)
		runLogger.Printf("Catalog storage: built-in (DATABASE_URL not set)")
	}
	usageRecorder = usage.NewRecorder(catalogDB)

	catalogRegistry = catalog.NewRegistry(store, credentials,
		catalog.WithBuiltinWorkflows(catalog.BuiltinWorkflows()))

	adapterRegistry = media.NewAdapterRegistry()
	for _, a := range []media.Adapter{
		anthropic.New(),
		openai.New(),
		gemini.New(),
		ideogram.New(),
		elevenlabs.New(),
		replicate.New(),
		vllm.New(),
		zai.New(),
	} {
		adapterRegistry.Register(a)
	}
	if region, ok := credentials.Secret(media.SecretBedrockRegion); ok {
		bed, err := bedrock.New(context.Background(), region,
			os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"))
		if err != nil {
			runLogger.Printf("WARNING: Bedrock adapter disabled: %v", err)
		} else {
			adapterRegistry.Register(bed)
		}
	}
	runLogger.Printf("Registered adapters: %v", adapterRegistry.List())

	metricsCollector = NewMetricsCollector(prometheus.DefaultRegisterer)
	mediaRouter = media.NewRouter(catalogRegistry, adapterRegistry, credentials,
		media.WithQuotaCooldown(cfg.QuotaCooldown),
		media.WithRouterMetrics(metricsCollector))
	workflowEngine = NewWorkflowEngine(mediaRouter, WithWorkflowMetrics(metricsCollector))

	var queue *QueueStatsClient
	if cfg.QueueServiceURL != "" {
		queue = NewQueueStatsClient(cfg.QueueServiceURL)
	}
	tierClassifier = NewTierClassifier(queue, cfg.QueueCongestionThreshold)
	waterfallResolver = NewWaterfallResolver(catalogRegistry, cfg.DefaultWaterfall)

	var storeOpts []ExecutionStoreOption
	if cfg.RedisAddr != "" {
		storeOpts = append(storeOpts, WithRedisGuard(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})))
		runLogger.Printf("Execution duplicate guard: Redis at %s", cfg.RedisAddr)
	}
	executionStore = NewExecutionStore(storeOpts...)

	runnerURL := cfg.VideoRunnerURL
	if runnerURL == "" {
		runnerURL, _ = credentials.Secret(media.SecretRunnerBaseURL)
	}
	var runner *VideoRunnerClient
	if runnerURL != "" {
		runner = NewVideoRunnerClient(runnerURL,
			WithCFAccess(cfg.CFAccessClientID, cfg.CFAccessClientSecret))
	} else {
		runLogger.Printf("WARNING: video runner not configured, video-render tasks will fail")
	}

	subWorkflows = NewSubWorkflows(mediaRouter, catalogRegistry, executionStore,
		waterfallResolver, tierClassifier, runner)
	primeOrchestrator = NewPrimeOrchestrator(executionStore, subWorkflows,
		NewCallbackSender(cfg.Passphrase),
		WithPollInterval(cfg.PollInterval),
		WithMaxPollAttempts(cfg.MaxPollAttempts),
		WithPrimeMetrics(metricsCollector))
}

// newHTTPRouter builds the route table. Registration order matters for the
// /workflows subtree: the shipping-research refusal must win over {kind}.
func newHTTPRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(usageMiddleware)

	r.HandleFunc("/execute", handleExecute).Methods("POST")
	r.HandleFunc("/status/{id}", handleExecutionStatus).Methods("GET")

	r.HandleFunc("/workflows/product-shipping-research", handleShippingResearchRefused).Methods("POST")
	r.HandleFunc("/workflows/{kind}", handleLegacyWorkflow).Methods("POST")
	r.HandleFunc("/workflows/{kind}/{id}", handleWorkflowStatus).Methods("GET")

	r.HandleFunc("/workflow-definitions", handleListWorkflowDefinitions).Methods("GET")
	r.HandleFunc("/workflow-definitions/{id}/run", handleRunWorkflowDefinition).Methods("POST")

	r.HandleFunc("/health", handleHealth).Methods("GET")
	r.HandleFunc("/providers/status", handleProvidersStatus).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return r
}

// statusWriter captures the response status for the usage recorder.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func usageMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		usageRecorder.RecordAPICall(usage.APICallEvent{
			HTTPMethod:     r.Method,
			HTTPPath:       r.URL.Path,
			HTTPStatusCode: sw.status,
			LatencyMs:      time.Since(start).Milliseconds(),
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		runLogger.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	})
}

// authorized checks the shared passphrase. An empty configured passphrase
// disables the check (local development).
func authorized(r *http.Request) bool {
	if serviceConfig == nil || serviceConfig.Passphrase == "" {
		return true
	}
	return r.Header.Get("X-Passphrase") == serviceConfig.Passphrase
}

type executeRequest struct {
	ID     string              `json:"id,omitempty"`
	Params PrimeWorkflowParams `json:"params"`
}

// handleExecute accepts a task for background execution. The execution id
// defaults to the task id so resubmitting the same task is rejected with 409
// instead of starting a second instance.
func handleExecute(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing X-Passphrase header")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body: "+err.Error())
		return
	}
	if req.ID == "" {
		req.ID = req.Params.TaskID
	}

	id, err := primeOrchestrator.Execute(r.Context(), req.ID, &req.Params)
	if err != nil {
		if errors.Is(err, ErrDuplicateExecution) {
			writeError(w, http.StatusConflict, "DUPLICATE_EXECUTION", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":      true,
		"execution_id": id,
		"status":       "accepted",
	})
}

func handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	exec, err := primeOrchestrator.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// legacyWorkflowKinds are the per-kind entry points kept for callers that
// predate /execute.
var legacyWorkflowKinds = map[string]bool{
	"code-execution":   true,
	"text-generation":  true,
	"image-generation": true,
	"audio-generation": true,
}

type legacyWorkflowRequest struct {
	TaskID      string                    `json:"task_id"`
	Title       string                    `json:"title"`
	Prompt      string                    `json:"prompt"`
	Description string                    `json:"description"`
	Options     media.MediaOptions        `json:"options"`
	Constraints *media.RequestConstraints `json:"constraints"`
	Waterfall   WaterfallParams           `json:"waterfall"`
	CallbackURL string                    `json:"callback_url"`
}

// handleLegacyWorkflow re-routes a per-kind submission through the entry
// orchestrator by synthesizing the uniform parameter envelope. The kind
// becomes a routing hint, so the response may still reflect a stronger
// classification signal from the body.
func handleLegacyWorkflow(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing X-Passphrase header")
		return
	}

	kind := mux.Vars(r)["kind"]
	if !legacyWorkflowKinds[kind] {
		writeError(w, http.StatusNotFound, "UNKNOWN_WORKFLOW", fmt.Sprintf("unknown workflow kind %q", kind))
		return
	}

	var req legacyWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body: "+err.Error())
		return
	}

	title := req.Title
	if title == "" {
		title = req.Prompt
	}
	if title == "" {
		title = req.Description
	}
	params := &PrimeWorkflowParams{
		TaskID:      req.TaskID,
		Title:       title,
		Description: req.Description,
		Hints:       TaskHints{Workflow: kind},
		Options:     req.Options,
		Constraints: req.Constraints,
		Waterfall:   req.Waterfall,
		CallbackURL: req.CallbackURL,
	}
	if params.Description == "" {
		params.Description = req.Prompt
	}
	if params.TaskID == "" {
		params.TaskID = uuid.NewString()
	}

	id, err := primeOrchestrator.Execute(r.Context(), params.TaskID, params)
	if err != nil {
		if errors.Is(err, ErrDuplicateExecution) {
			writeError(w, http.StatusConflict, "DUPLICATE_EXECUTION", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":      true,
		"execution_id": id,
		"status":       "accepted",
		"redirected":   true,
		"notice":       fmt.Sprintf("POST /workflows/%s is deprecated, use POST /execute", kind),
	})
}

func handleShippingResearchRefused(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusForbidden, "FORBIDDEN",
		"product-shipping-research is not accepted on the legacy surface, use POST /execute")
}

func handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	exec, err := primeOrchestrator.Status(r.Context(), vars["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":      vars["kind"],
		"execution": exec,
	})
}

func handleListWorkflowDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := catalogRegistry.ListWorkflows(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": defs})
}

// handleRunWorkflowDefinition executes a stored or built-in multi-step
// workflow synchronously. Step failures return the partial results alongside
// the error, matching the engine's contract.
func handleRunWorkflowDefinition(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing X-Passphrase header")
		return
	}

	var req WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body: "+err.Error())
		return
	}

	id := mux.Vars(r)["id"]
	def, err := catalogRegistry.GetWorkflow(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}

	// The engine reports step failures inside the result; a Go error means
	// the definition itself was unusable.
	result, err := workflowEngine.Execute(r.Context(), def, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_WORKFLOW", err.Error())
		return
	}
	if !result.Success {
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "conduit-orchestrator",
		"database":  catalogDB != nil,
		"adapters":  adapterRegistry.List(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type providerStatusView struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Kind     catalog.ProviderKind    `json:"kind"`
	Enabled  bool                    `json:"enabled"`
	Priority int                     `json:"priority"`
	Status   *catalog.ProviderStatus `json:"status,omitempty"`
}

// handleProvidersStatus exposes the registry health view across all workers.
func handleProvidersStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workers := []string{
		catalog.WorkerTextGen,
		catalog.WorkerImageGen,
		catalog.WorkerAudioGen,
		catalog.WorkerVideoGen,
	}

	seen := make(map[string]bool)
	views := make([]providerStatusView, 0)
	for _, workerID := range workers {
		providers, err := catalogRegistry.GetProvidersForWorker(ctx, workerID)
		if err != nil {
			runLogger.Printf("Provider status read for worker %s failed: %v", workerID, err)
			continue
		}
		for _, p := range providers {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			status, err := catalogRegistry.GetProviderStatus(ctx, p.ID)
			if err != nil {
				status = nil
			}
			views = append(views, providerStatusView{
				ID:       p.ID,
				Name:     p.Name,
				Kind:     p.Kind,
				Enabled:  p.Enabled,
				Priority: p.Priority,
				Status:   status,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"providers": views})
}
