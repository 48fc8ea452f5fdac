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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"axonflow/conduit/common/usage"
	"axonflow/conduit/orchestrator/catalog"
	"axonflow/conduit/orchestrator/media"
)

// setupServer wires the package components over the in-memory stack and
// returns the route table. Handlers read package-level components, so tests
// using this helper must not run in parallel.
func setupServer(t *testing.T, text *seqAdapter) *mux.Router {
	t.Helper()

	subs, execs := setupStack(t, text, nil)
	creds := media.NewStaticCredentials(map[string]string{
		media.SecretAnthropicAPIKey: "sk-ant-test",
	})

	serviceConfig = &Config{Passphrase: "hunter2"}
	catalogRegistry = catalog.NewRegistry(defaultCatalog(creds), creds,
		catalog.WithBuiltinWorkflows(catalog.BuiltinWorkflows()))
	adapterRegistry = media.NewAdapterRegistry()
	if text != nil {
		adapterRegistry.Register(text)
	}
	workflowEngine = NewWorkflowEngine(media.NewRouter(catalogRegistry, adapterRegistry, creds))
	usageRecorder = usage.NewRecorder(nil)
	executionStore = execs
	subWorkflows = subs
	primeOrchestrator = NewPrimeOrchestrator(execs, subs, nil, WithPollInterval(time.Millisecond))

	return newHTTPRouter()
}

func doJSON(t *testing.T, router *mux.Router, method, path, passphrase, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if passphrase != "" {
		req.Header.Set("X-Passphrase", passphrase)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("%s %s: invalid JSON response %q", method, path, rec.Body.String())
	}
	return rec, decoded
}

func TestExecuteEndpointAcceptsAndDeduplicates(t *testing.T) {
	long := strings.Repeat("Drafted the requested notes with every agenda item covered. ", 3)
	router := setupServer(t, textAdapter(textOK(long)))
	body := `{"params": {"task_id": "T42", "title": "[write] meeting notes"}}`

	rec, resp := doJSON(t, router, "POST", "/execute", "hunter2", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp["success"] != true || resp["status"] != "accepted" || resp["execution_id"] != "T42" {
		t.Errorf("response = %v", resp)
	}

	rec, resp = doJSON(t, router, "POST", "/execute", "hunter2", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	if resp["code"] != "DUPLICATE_EXECUTION" {
		t.Errorf("duplicate response = %v", resp)
	}
}

func TestExecuteEndpointPassphrase(t *testing.T) {
	router := setupServer(t, textAdapter(textOK("x")))

	rec, resp := doJSON(t, router, "POST", "/execute", "", `{"params":{"task_id":"T1","title":"t"}}`)
	if rec.Code != http.StatusUnauthorized || resp["code"] != "UNAUTHORIZED" {
		t.Errorf("missing passphrase: status = %d, resp %v", rec.Code, resp)
	}

	rec, _ = doJSON(t, router, "POST", "/execute", "wrong", `{"params":{"task_id":"T1","title":"t"}}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong passphrase: status = %d", rec.Code)
	}
}

func TestExecuteEndpointValidation(t *testing.T) {
	router := setupServer(t, textAdapter(textOK("x")))

	rec, resp := doJSON(t, router, "POST", "/execute", "hunter2", `{"params": {"task_id": "T2"}}`)
	if rec.Code != http.StatusBadRequest || resp["code"] != "INVALID_REQUEST" {
		t.Errorf("missing title: status = %d, resp %v", rec.Code, resp)
	}

	rec, _ = doJSON(t, router, "POST", "/execute", "hunter2", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	long := strings.Repeat("The summary covers each section of the source document in order. ", 3)
	router := setupServer(t, textAdapter(textOK(long)))

	rec, _ := doJSON(t, router, "POST", "/execute", "hunter2",
		`{"params": {"task_id": "T50", "title": "[summarize] board notes"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("execute status = %d", rec.Code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, resp := doJSON(t, router, "GET", "/status/T50", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status endpoint = %d", rec.Code)
		}
		if resp["status"] == string(StatusComplete) && resp["duration_ms"] != nil {
			if resp["output"] != long {
				t.Errorf("output = %v", resp["output"])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("execution never completed: %v", resp)
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec, resp := doJSON(t, router, "GET", "/status/nope", "", "")
	if rec.Code != http.StatusNotFound || resp["code"] != "NOT_FOUND" {
		t.Errorf("unknown id: status = %d, resp %v", rec.Code, resp)
	}
}

func TestLegacyWorkflowRedirect(t *testing.T) {
	long := strings.Repeat("Here is the requested overview with sources and caveats noted. ", 3)
	router := setupServer(t, textAdapter(textOK(long)))

	rec, resp := doJSON(t, router, "POST", "/workflows/text-generation", "hunter2",
		`{"task_id": "T60", "prompt": "Give an overview of the migration plan"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp["redirected"] != true {
		t.Errorf("response = %v", resp)
	}
	notice, _ := resp["notice"].(string)
	if !strings.Contains(notice, "deprecated") {
		t.Errorf("notice = %q", notice)
	}

	rec, resp = doJSON(t, router, "POST", "/workflows/teleportation", "hunter2", `{}`)
	if rec.Code != http.StatusNotFound || resp["code"] != "UNKNOWN_WORKFLOW" {
		t.Errorf("unknown kind: status = %d, resp %v", rec.Code, resp)
	}
}

func TestShippingResearchRefusedOnLegacySurface(t *testing.T) {
	router := setupServer(t, textAdapter(textOK("x")))

	rec, resp := doJSON(t, router, "POST", "/workflows/product-shipping-research", "hunter2",
		`{"task_id": "T70", "title": "measure the lamp"}`)
	if rec.Code != http.StatusForbidden || resp["code"] != "FORBIDDEN" {
		t.Errorf("status = %d, resp %v", rec.Code, resp)
	}
}

func TestWorkflowStatusPassthrough(t *testing.T) {
	long := strings.Repeat("Completed the write-up and cross-checked the numbers. ", 3)
	router := setupServer(t, textAdapter(textOK(long)))

	rec, _ := doJSON(t, router, "POST", "/workflows/text-generation", "hunter2",
		`{"task_id": "T80", "prompt": "Write the launch recap"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	rec, resp := doJSON(t, router, "GET", "/workflows/text-generation/T80", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["kind"] != "text-generation" || resp["execution"] == nil {
		t.Errorf("response = %v", resp)
	}
}

func TestWorkflowDefinitionEndpoints(t *testing.T) {
	router := setupServer(t, textAdapter(textOK("Tides follow the moon.")))

	def := &catalog.WorkflowDefinition{
		ID:   "demo",
		Name: "Demo",
		Steps: []catalog.WorkflowStep{
			{ID: "write", Worker: catalog.WorkerTextGen, PromptTemplate: "Write about {{topic}}", OutputKey: "article"},
		},
	}
	if err := catalogRegistry.SaveWorkflow(context.Background(), def); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}

	rec, resp := doJSON(t, router, "GET", "/workflow-definitions", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if defs, ok := resp["workflows"].([]any); !ok || len(defs) == 0 {
		t.Errorf("workflows = %v", resp["workflows"])
	}

	rec, resp = doJSON(t, router, "POST", "/workflow-definitions/demo/run", "hunter2",
		`{"variables": {"topic": "tidal power"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp["success"] != true {
		t.Errorf("response = %v", resp)
	}
	outputs, _ := resp["outputs"].(map[string]any)
	if outputs["article"] == nil {
		t.Errorf("outputs = %v", outputs)
	}

	rec, _ = doJSON(t, router, "POST", "/workflow-definitions/absent/run", "hunter2", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown workflow: status = %d", rec.Code)
	}
}

func TestHealthAndProviderStatusEndpoints(t *testing.T) {
	router := setupServer(t, textAdapter(textOK("x")))

	rec, resp := doJSON(t, router, "GET", "/health", "", "")
	if rec.Code != http.StatusOK || resp["status"] != "healthy" {
		t.Errorf("health: status = %d, resp %v", rec.Code, resp)
	}

	rec, resp = doJSON(t, router, "GET", "/providers/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("providers/status = %d", rec.Code)
	}
	providers, ok := resp["providers"].([]any)
	if !ok || len(providers) == 0 {
		t.Fatalf("providers = %v", resp["providers"])
	}
	first, _ := providers[0].(map[string]any)
	if first["id"] == "" {
		t.Errorf("provider view = %v", first)
	}
}
