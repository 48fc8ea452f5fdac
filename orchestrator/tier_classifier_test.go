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
	"net/http"
	"net/http/httptest"
	"testing"

	"axonflow/conduit/orchestrator/media"
)

func TestClassifyExplicitTierWins(t *testing.T) {
	c := NewTierClassifier(nil, 0)

	tier, reason := c.Classify(context.Background(), "summarize this", media.MediaOptions{
		RoutingTier: media.TierCode,
	})
	if tier != media.TierCode {
		t.Errorf("tier = %s, want code", tier)
	}
	if reason != "explicit routing_tier" {
		t.Errorf("reason = %q", reason)
	}
}

func TestClassifyTaskType(t *testing.T) {
	c := NewTierClassifier(nil, 0)
	ctx := context.Background()

	tests := []struct {
		taskType string
		want     media.RoutingTier
	}{
		{"classification", media.TierTextOnly},
		{"summarize", media.TierTextOnly},
		{"json_extraction", media.TierTextOnly},
		{"translate", media.TierTextOnly},
		{"code_review", media.TierCode},
		{"debug", media.TierCode},
		{"implementation", media.TierCode},
	}
	for _, tt := range tests {
		t.Run(tt.taskType, func(t *testing.T) {
			tier, _ := c.Classify(ctx, "anything", media.MediaOptions{TaskType: tt.taskType})
			if tier != tt.want {
				t.Errorf("task_type %s: tier = %s, want %s", tt.taskType, tier, tt.want)
			}
		})
	}
}

func TestClassifyPromptHeuristics(t *testing.T) {
	c := NewTierClassifier(nil, 0)
	ctx := context.Background()

	tests := []struct {
		name   string
		prompt string
		want   media.RoutingTier
	}{
		{"fenced code block", "What does this do?\n```go\nfmt.Println(1)\n```", media.TierCode},
		{"function declaration", "func main() {\n}", media.TierCode},
		{"write code verb", "Please write a function that parses CSV", media.TierCode},
		{"stack trace", "I got this stack trace when running the job", media.TierCode},
		{"classify verb", "Classify this review as positive or negative", media.TierTextOnly},
		{"summarize verb", "Summarize the following transcript", media.TierTextOnly},
		{"json response", "Respond with JSON listing the entities", media.TierTextOnly},
		{"default is code", "Plan a product launch for next quarter", media.TierCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, _ := c.Classify(ctx, tt.prompt, media.MediaOptions{})
			if tier != tt.want {
				t.Errorf("prompt %q: tier = %s, want %s", tt.prompt, tier, tt.want)
			}
		})
	}
}

func TestClassifyQueueCongestionDemotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/queue/stats" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"by_executor":{"claude-code":{"queued":7,"claimed":2,"dispatched":3}}}`))
	}))
	defer srv.Close()

	c := NewTierClassifier(NewQueueStatsClient(srv.URL), 10)

	tier, reason := c.Classify(context.Background(), "write a function to sort a list", media.MediaOptions{})
	if tier != media.TierTextOnly {
		t.Errorf("tier = %s, want text-only demotion at depth 12", tier)
	}
	if reason != "queue congestion (depth 12)" {
		t.Errorf("reason = %q", reason)
	}

	// Explicit tier is exempt from congestion demotion.
	tier, _ = c.Classify(context.Background(), "write a function", media.MediaOptions{RoutingTier: media.TierCode})
	if tier != media.TierCode {
		t.Errorf("explicit tier demoted: %s", tier)
	}
}

func TestQueueDepthFailuresReportZero(t *testing.T) {
	ctx := context.Background()

	if d := NewQueueStatsClient("").Depth(ctx); d != 0 {
		t.Errorf("empty base URL depth = %d", d)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	if d := NewQueueStatsClient(srv.URL).Depth(ctx); d != 0 {
		t.Errorf("5xx depth = %d", d)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer bad.Close()
	if d := NewQueueStatsClient(bad.URL).Depth(ctx); d != 0 {
		t.Errorf("malformed body depth = %d", d)
	}

	srv.Close()
	if d := NewQueueStatsClient(srv.URL).Depth(ctx); d != 0 {
		t.Errorf("unreachable queue depth = %d", d)
	}
}
