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
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"axonflow/conduit/orchestrator/media"
)

// DefaultQueueCongestionThreshold is the queue depth at which code-tier text
// requests are demoted to the text-only tier.
const DefaultQueueCongestionThreshold = 10

// codeQueueExecutor is the queue executor whose depth gates the code tier.
const codeQueueExecutor = "claude-code"

// textOnlyTags are task_type values that route to the text-only tier.
var textOnlyTags = []string{
	"classify", "classification", "summarize", "summary", "extract",
	"extraction", "translate", "translation", "json", "label", "sentiment",
	"rewrite", "title",
}

// codeTags are task_type values that route to the code tier.
var codeTags = []string{
	"code", "coding", "implement", "implementation", "debug", "refactor",
	"script", "program", "test", "fix",
}

var (
	// codePatterns in the prompt body force the code tier.
	codePatterns = []*regexp.Regexp{
		regexp.MustCompile("```"),
		regexp.MustCompile(`(?m)^\s*(func|def|class|function|public |private |import |package )\b`),
		regexp.MustCompile(`(?i)\b(write|fix|debug|refactor|implement)\b.{0,40}\b(code|function|script|program|test|bug)\b`),
		regexp.MustCompile(`(?i)\b(stack trace|compile error|traceback|segfault)\b`),
	}

	// textOnlyPatterns in the prompt body suggest the text-only tier.
	textOnlyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(classify|categorize|summarize|summarise|extract|translate|label)\b`),
		regexp.MustCompile(`(?i)\b(tl;?dr|in one sentence|bullet points)\b`),
		regexp.MustCompile(`(?i)\brespond (with|in) (json|yaml|a single word)\b`),
	}
)

// TextOnlyWaterfall is the short provider waterfall the text-only tier tries
// before falling through to the standard chain.
var TextOnlyWaterfall = []string{"zai", "gemini", "openai"}

// QueueStatsClient reads the external code-execution queue depth.
type QueueStatsClient struct {
	baseURL string
	client  *http.Client
}

// NewQueueStatsClient creates a client for the queue stats endpoint. An empty
// baseURL disables queue awareness.
func NewQueueStatsClient(baseURL string) *QueueStatsClient {
	return &QueueStatsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 3 * time.Second},
	}
}

type queueStats struct {
	ByExecutor map[string]struct {
		Queued     int `json:"queued"`
		Claimed    int `json:"claimed"`
		Dispatched int `json:"dispatched"`
	} `json:"by_executor"`
}

// Depth returns the current depth of the code-execution queue. Any failure
// reports depth 0: an unreachable queue must never block code routing.
func (q *QueueStatsClient) Depth(ctx context.Context) int {
	if q == nil || q.baseURL == "" {
		return 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/api/queue/stats", nil)
	if err != nil {
		return 0
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return 0
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return 0
	}

	var stats queueStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0
	}
	ex := stats.ByExecutor[codeQueueExecutor]
	return ex.Queued + ex.Claimed + ex.Dispatched
}

// TierClassifier decides whether a text request takes the cheap text-only
// path or the full code-execution chain.
type TierClassifier struct {
	queue     *QueueStatsClient
	threshold int
	logger    *log.Logger
}

// NewTierClassifier creates a classifier. queue may be nil.
func NewTierClassifier(queue *QueueStatsClient, threshold int) *TierClassifier {
	if threshold <= 0 {
		threshold = DefaultQueueCongestionThreshold
	}
	return &TierClassifier{
		queue:     queue,
		threshold: threshold,
		logger:    log.New(os.Stdout, "[TIER_CLASSIFIER] ", log.LstdFlags),
	}
}

// Classify returns the routing tier for a text request plus a human-readable
// reason.
func (c *TierClassifier) Classify(ctx context.Context, prompt string, opts media.MediaOptions) (media.RoutingTier, string) {
	// Explicit tier wins.
	if opts.RoutingTier != "" && opts.RoutingTier != media.TierAuto {
		return opts.RoutingTier, "explicit routing_tier"
	}

	tier, reason := c.classifyContent(prompt, opts.TaskType)
	if tier == media.TierCode {
		if depth := c.queue.Depth(ctx); depth >= c.threshold {
			c.logger.Printf("Demoting code-tier request to text-only: queue depth %d >= %d", depth, c.threshold)
			return media.TierTextOnly, fmt.Sprintf("queue congestion (depth %d)", depth)
		}
	}
	return tier, reason
}

func (c *TierClassifier) classifyContent(prompt, taskType string) (media.RoutingTier, string) {
	if taskType != "" {
		lower := strings.ToLower(taskType)
		for _, tag := range textOnlyTags {
			if strings.Contains(lower, tag) {
				return media.TierTextOnly, "task_type " + taskType
			}
		}
		for _, tag := range codeTags {
			if strings.Contains(lower, tag) {
				return media.TierCode, "task_type " + taskType
			}
		}
	}

	for _, re := range codePatterns {
		if re.MatchString(prompt) {
			return media.TierCode, "code pattern in prompt"
		}
	}
	for _, re := range textOnlyPatterns {
		if re.MatchString(prompt) {
			return media.TierTextOnly, "text-only pattern in prompt"
		}
	}

	return media.TierCode, "default"
}
