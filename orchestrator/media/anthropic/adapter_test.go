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

package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"axonflow/conduit/orchestrator/catalog"
	"axonflow/conduit/orchestrator/media"
)

func textRequest(baseURL string) media.AdapterRequest {
	return media.AdapterRequest{
		RequestID: "req-1",
		Worker:    catalog.WorkerTextGen,
		Prompt:    "Explain failover in one sentence.",
		Model:     "claude-sonnet-4-20250514",
		APIKey:    "sk-ant-test",
		Gateway:   media.GatewayRoute{BaseURL: baseURL},
	}
}

func TestExecuteSuccess(t *testing.T) {
	var captured messagesRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"model": "claude-sonnet-4-20250514",
			"content": [{"type":"text","text":"Failover "},{"type":"text","text":"retries the next provider."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 8}
		}`))
	}))
	defer srv.Close()

	res, err := New().Execute(context.Background(), textRequest(srv.URL))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Text != "Failover retries the next provider." {
		t.Errorf("text = %q", res.Text)
	}
	if res.TokensUsed != 20 {
		t.Errorf("tokens = %d", res.TokensUsed)
	}

	if headers.Get("x-api-key") != "sk-ant-test" {
		t.Errorf("x-api-key = %q", headers.Get("x-api-key"))
	}
	if headers.Get("anthropic-version") != DefaultAPIVersion {
		t.Errorf("anthropic-version = %q", headers.Get("anthropic-version"))
	}
	if captured.Model != "claude-sonnet-4-20250514" || captured.MaxTokens != DefaultMaxTokens {
		t.Errorf("request = %+v", captured)
	}
}

func TestExecuteGatewayTokenReplacesAPIKey(t *testing.T) {
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	req := textRequest(srv.URL)
	req.Gateway.Token = "gw-token"
	if _, err := New().Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if headers.Get(media.GatewayAuthHeader) != "Bearer gw-token" {
		t.Errorf("%s = %q", media.GatewayAuthHeader, headers.Get(media.GatewayAuthHeader))
	}
	if headers.Get("x-api-key") != "" {
		t.Error("x-api-key must not be sent on gateway-routed calls")
	}
}

func TestExecuteNon200SurfacesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	_, err := New().Execute(context.Background(), textRequest(srv.URL))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status 429") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err = %v", err)
	}
}

func TestExecuteRejectsNonTextWorker(t *testing.T) {
	req := textRequest("http://unused")
	req.Worker = catalog.WorkerImageGen
	if _, err := New().Execute(context.Background(), req); err == nil {
		t.Fatal("image worker must be rejected")
	}
}

func TestExecuteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req messagesRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("stream flag must be set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
				"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello\"}}\n\n" +
				"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" world\"}}\n\n" +
				"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"))
	}))
	defer srv.Close()

	deltas, err := New().ExecuteStream(context.Background(), textRequest(srv.URL))
	if err != nil {
		t.Fatalf("ExecuteStream: %v", err)
	}

	text, err := media.CollectStream(context.Background(), deltas)
	if err != nil {
		t.Fatalf("CollectStream: %v", err)
	}
	if text != "Hello world" {
		t.Errorf("text = %q", text)
	}
}
