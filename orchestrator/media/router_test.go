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
	"errors"
	"sync"
	"testing"
	"time"

	"axonflow/conduit/orchestrator/catalog"
)

func timeNowPlusHour() time.Time {
	return time.Now().Add(time.Hour)
}

// fakeAdapter is a scriptable adapter for router tests.
type fakeAdapter struct {
	mu       sync.Mutex
	provider string
	workers  []string
	results  []fakeOutcome
	calls    int
	lastReq  AdapterRequest
}

type fakeOutcome struct {
	result *MediaResult
	err    error
}

func newFakeAdapter(provider string, outcomes ...fakeOutcome) *fakeAdapter {
	return &fakeAdapter{
		provider: provider,
		workers:  []string{catalog.WorkerTextGen},
		results:  outcomes,
	}
}

func (f *fakeAdapter) ProviderID() string { return f.provider }

func (f *fakeAdapter) SupportedWorkers() []string { return f.workers }

func (f *fakeAdapter) CheckHealth(context.Context) error { return nil }

func (f *fakeAdapter) Execute(_ context.Context, req AdapterRequest) (*MediaResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	out := f.results[idx]
	return out.result, out.err
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAdapter) lastRequest() AdapterRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func ok(text string, tokens int) fakeOutcome {
	return fakeOutcome{result: &MediaResult{Text: text, TokensUsed: tokens}}
}

func fail(err error) fakeOutcome {
	return fakeOutcome{err: err}
}

func setupRouter(t *testing.T, adapters ...Adapter) (*catalog.MemoryStore, *catalog.Registry, *Router) {
	t.Helper()
	store, registry := setupCatalog(t)

	reg := NewAdapterRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	creds := NewStaticCredentials(map[string]string{
		SecretAnthropicAPIKey: "sk-ant-test",
		SecretOpenAIAPIKey:    "sk-test",
	})
	router := NewRouter(registry, reg, creds)
	return store, registry, router
}

func TestRouteSuccess(t *testing.T) {
	anthropic := newFakeAdapter("anthropic", ok("hello from claude", 120))
	_, registry, router := setupRouter(t, anthropic)

	res := router.Route(context.Background(), SimpleRequest{
		Worker: catalog.WorkerTextGen,
		Prompt: "say hello",
	})

	if !res.Success {
		t.Fatalf("expected success, got error %q (%s)", res.Error, res.ErrorCode)
	}
	if res.Result.Text != "hello from claude" {
		t.Errorf("unexpected text %q", res.Result.Text)
	}
	if res.Result.Provider != "anthropic" || res.Result.Model != "claude-sonnet-4-20250514" {
		t.Errorf("result not attributed: %+v", res.Result)
	}
	if res.Meta.TokensUsed != 120 {
		t.Errorf("meta tokens = %d, want 120", res.Meta.TokensUsed)
	}
	// 120 tokens at 0.3/1.5 per 1K: round(0.06*1.8*100)/100 = 0.11
	if res.Meta.CostCents != 0.11 {
		t.Errorf("meta cost = %v, want 0.11", res.Meta.CostCents)
	}
	if len(res.AttemptedProviders) != 1 || res.AttemptedProviders[0] != "anthropic" {
		t.Errorf("attempted = %v", res.AttemptedProviders)
	}

	status, err := registry.GetProviderStatus(context.Background(), "anthropic")
	if err != nil {
		t.Fatalf("GetProviderStatus: %v", err)
	}
	if !status.Healthy || status.ConsecutiveFailures != 0 {
		t.Errorf("success must mark provider healthy: %+v", status)
	}
}

func TestRouteBlankPrompt(t *testing.T) {
	_, _, router := setupRouter(t)
	res := router.Route(context.Background(), SimpleRequest{
		Worker: catalog.WorkerTextGen,
		Prompt: "   \n\t ",
	})
	if res.Success || res.ErrorCode != ErrCodeInvalidRequest {
		t.Errorf("blank prompt must fail with INVALID_REQUEST, got %+v", res)
	}
}

func TestRouteFailover(t *testing.T) {
	anthropic := newFakeAdapter("anthropic",
		fail(errors.New("anthropic API error (status 503): service unavailable")),
		fail(errors.New("anthropic API error (status 503): service unavailable")))
	openai := newFakeAdapter("openai", ok("gpt answer", 80))
	_, registry, router := setupRouter(t, anthropic, openai)

	res := router.Route(context.Background(), SimpleRequest{
		Worker: catalog.WorkerTextGen,
		Prompt: "question",
	})

	if !res.Success {
		t.Fatalf("expected failover success, got %q", res.Error)
	}
	if res.Result.Provider != "openai" {
		t.Errorf("result provider = %s, want openai", res.Result.Provider)
	}
	// anthropic has two models in the chain, both tried before openai
	if anthropic.callCount() != 2 {
		t.Errorf("anthropic attempts = %d, want 2", anthropic.callCount())
	}

	status, _ := registry.GetProviderStatus(context.Background(), "anthropic")
	if status.ConsecutiveFailures != 2 {
		t.Errorf("anthropic failures = %d, want 2", status.ConsecutiveFailures)
	}
}

func TestRouteQuotaExhaustsProvider(t *testing.T) {
	anthropic := newFakeAdapter("anthropic",
		fail(errors.New("anthropic API error (status 429): Your credit balance too low")))
	openai := newFakeAdapter("openai", ok("answer", 10))
	_, registry, router := setupRouter(t, anthropic, openai)

	res := router.Route(context.Background(), SimpleRequest{
		Worker: catalog.WorkerTextGen,
		Prompt: "question",
	})
	if !res.Success {
		t.Fatalf("expected failover success, got %q", res.Error)
	}

	status, _ := registry.GetProviderStatus(context.Background(), "anthropic")
	if !status.Exhausted(time.Now()) {
		t.Error("quota error must mark the provider exhausted")
	}

	// The exhausted provider is gone from the next chain entirely.
	res2 := router.Route(context.Background(), SimpleRequest{
		Worker: catalog.WorkerTextGen,
		Prompt: "again",
	})
	if !res2.Success {
		t.Fatalf("second route failed: %q", res2.Error)
	}
	for _, id := range res2.AttemptedProviders {
		if id == "anthropic" {
			t.Error("exhausted provider attempted again within cooldown")
		}
	}
	if anthropic.callCount() != 1 {
		t.Errorf("anthropic attempts = %d, want 1 (quota aborts its remaining models)", anthropic.callCount())
	}
}

func TestRouteBadRequestAbortsChain(t *testing.T) {
	anthropic := newFakeAdapter("anthropic",
		fail(errors.New("anthropic API error (status 400): invalid_request_error: max_tokens too large")))
	openai := newFakeAdapter("openai", ok("never reached", 1))
	_, _, router := setupRouter(t, anthropic, openai)

	res := router.Route(context.Background(), SimpleRequest{
		Worker: catalog.WorkerTextGen,
		Prompt: "question",
	})
	if res.Success {
		t.Fatal("bad request must not succeed via failover")
	}
	if res.ErrorCode != ErrCodeProviderBadRequest {
		t.Errorf("error code = %s, want PROVIDER_BAD_REQUEST", res.ErrorCode)
	}
	if openai.callCount() != 0 {
		t.Error("chain must abort before reaching the next provider")
	}
}

func TestRouteAllProvidersFailed(t *testing.T) {
	boom := errors.New("API error (status 500): internal server error")
	anthropic := newFakeAdapter("anthropic", fail(boom))
	openai := newFakeAdapter("openai", fail(boom))
	vllm := newFakeAdapter("vllm", fail(errors.New("connection refused")))
	_, _, router := setupRouter(t, anthropic, openai, vllm)

	res := router.Route(context.Background(), SimpleRequest{
		Worker: catalog.WorkerTextGen,
		Prompt: "question",
	})
	if res.Success {
		t.Fatal("expected exhausted chain to fail")
	}
	if res.ErrorCode != ErrCodeAllProvidersFailed {
		t.Errorf("error code = %s, want ALL_PROVIDERS_FAILED", res.ErrorCode)
	}
	want := map[string]bool{"anthropic": true, "openai": true, "vllm": true}
	for _, id := range res.AttemptedProviders {
		delete(want, id)
	}
	if len(want) != 0 {
		t.Errorf("attempted_providers missing %v (got %v)", want, res.AttemptedProviders)
	}
}

func TestRouteFailureEnvelopeListsProviderOnce(t *testing.T) {
	boom := errors.New("API error (status 500): internal server error")
	anthropic := newFakeAdapter("anthropic", fail(boom))
	openai := newFakeAdapter("openai", fail(boom))
	_, _, router := setupRouter(t, anthropic, openai)

	res := router.Route(context.Background(), SimpleRequest{
		Worker: catalog.WorkerTextGen,
		Prompt: "question",
	})
	if res.Success {
		t.Fatal("expected exhausted chain to fail")
	}
	// Anthropic exposes two text models; both are attempted but the failure
	// envelope reports the provider once.
	if anthropic.callCount() != 2 {
		t.Fatalf("anthropic calls = %d, want 2", anthropic.callCount())
	}
	want := []string{"anthropic", "openai"}
	if len(res.AttemptedProviders) != len(want) {
		t.Fatalf("attempted = %v, want %v", res.AttemptedProviders, want)
	}
	for i, id := range want {
		if res.AttemptedProviders[i] != id {
			t.Errorf("attempted[%d] = %s, want %s", i, res.AttemptedProviders[i], id)
		}
	}
}

func TestRoutePrefersProvider(t *testing.T) {
	anthropic := newFakeAdapter("anthropic", ok("claude", 1))
	openai := newFakeAdapter("openai", ok("gpt", 1))
	_, _, router := setupRouter(t, anthropic, openai)

	res := router.Route(context.Background(), SimpleRequest{
		Worker:         catalog.WorkerTextGen,
		Prompt:         "question",
		PreferProvider: "openai",
	})
	if !res.Success || res.Result.Provider != "openai" {
		t.Errorf("preferred provider not used: %+v", res.Result)
	}
	if anthropic.callCount() != 0 {
		t.Error("higher-priority provider should not be attempted when preference succeeds")
	}
}

func TestRouteResolvesCredentials(t *testing.T) {
	anthropic := newFakeAdapter("anthropic", ok("claude", 1))
	_, _, router := setupRouter(t, anthropic)

	res := router.Route(context.Background(), SimpleRequest{
		Worker: catalog.WorkerTextGen,
		Prompt: "question",
	})
	if !res.Success {
		t.Fatalf("route failed: %q", res.Error)
	}
	if got := anthropic.lastRequest().APIKey; got != "sk-ant-test" {
		t.Errorf("adapter key = %q, want resolved secret", got)
	}
}

func TestRouteRecordsUsage(t *testing.T) {
	anthropic := newFakeAdapter("anthropic", ok("claude", 1000))
	store, _, router := setupRouter(t, anthropic)

	res := router.Route(context.Background(), SimpleRequest{
		Worker: catalog.WorkerTextGen,
		Prompt: "question",
	})
	if !res.Success {
		t.Fatalf("route failed: %q", res.Error)
	}

	rows := store.Usage()
	if len(rows) != 1 {
		t.Fatalf("usage rows = %d, want 1", len(rows))
	}
	if rows[0].ProviderID != "anthropic" || rows[0].Status != "success" || rows[0].TokensUsed != 1000 {
		t.Errorf("unexpected usage row: %+v", rows[0])
	}
}
