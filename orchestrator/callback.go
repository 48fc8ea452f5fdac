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
	"time"
)

// CallbackPayload is the envelope POSTed to a caller-supplied callback URL
// when a task reaches a terminal state.
type CallbackPayload struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"` // completed | failed | quarantined
	TaskType   string `json:"task_type,omitempty"`
	RunnerUsed string `json:"runner_used,omitempty"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

// HTTPClient abstracts the HTTP transport for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const callbackMaxAttempts = 3

// CallbackSender delivers terminal-state callbacks. Delivery is best-effort;
// a failed callback never changes the task outcome.
type CallbackSender struct {
	client     HTTPClient
	passphrase string
	logger     *log.Logger
	backoff    time.Duration
}

// CallbackOption configures the sender.
type CallbackOption func(*CallbackSender)

// WithCallbackHTTPClient overrides the HTTP client.
func WithCallbackHTTPClient(client HTTPClient) CallbackOption {
	return func(s *CallbackSender) {
		if client != nil {
			s.client = client
		}
	}
}

// WithCallbackBackoff overrides the base retry backoff (tests).
func WithCallbackBackoff(d time.Duration) CallbackOption {
	return func(s *CallbackSender) {
		s.backoff = d
	}
}

// NewCallbackSender creates a sender. passphrase is the shared secret sent in
// the X-Passphrase header; it may be empty.
func NewCallbackSender(passphrase string, opts ...CallbackOption) *CallbackSender {
	s := &CallbackSender{
		client:     &http.Client{Timeout: 15 * time.Second},
		passphrase: passphrase,
		logger:     log.New(os.Stdout, "[CALLBACK] ", log.LstdFlags),
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts the payload to url, retrying with exponential backoff. A nil
// return means a 2xx was received on some attempt.
func (s *CallbackSender) Send(ctx context.Context, url string, payload CallbackPayload) error {
	if url == "" {
		return nil
	}
	if payload.Timestamp == "" {
		payload.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= callbackMaxAttempts; attempt++ {
		if attempt > 1 {
			wait := s.backoff * time.Duration(1<<(attempt-2))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.post(ctx, url, body)
		if lastErr == nil {
			return nil
		}
		s.logger.Printf("Callback attempt %d/%d to %s failed: %v", attempt, callbackMaxAttempts, url, lastErr)
	}
	return fmt.Errorf("callback to %s failed after %d attempts: %w", url, callbackMaxAttempts, lastErr)
}

func (s *CallbackSender) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.passphrase != "" {
		req.Header.Set("X-Passphrase", s.passphrase)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
