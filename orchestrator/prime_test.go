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
)

// waitTerminal polls the store until the execution reaches a terminal status
// or the test deadline passes.
func waitTerminal(t *testing.T, o *PrimeOrchestrator, id string) *Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := o.Status(context.Background(), id)
		if err == nil && exec.Status.Terminal() && exec.DurationMs > 0 {
			return exec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("execution did not reach a terminal state")
	return nil
}

func newPrime(t *testing.T, subs *SubWorkflows, execs *ExecutionStore, callbacks *CallbackSender) *PrimeOrchestrator {
	t.Helper()
	return NewPrimeOrchestrator(execs, subs, callbacks, WithPollInterval(time.Millisecond))
}

func TestPrimeExecuteTextTask(t *testing.T) {
	long := strings.Repeat("The quarterly report has been drafted with all requested sections. ", 3)
	adapter := textAdapter(textOK(long))
	subs, execs := setupStack(t, adapter, nil)
	prime := newPrime(t, subs, execs, nil)

	id, err := prime.Execute(context.Background(), "", &PrimeWorkflowParams{
		TaskID: "T10", Title: "Draft the quarterly report",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated execution id")
	}

	exec := waitTerminal(t, prime, id)
	if exec.Status != StatusComplete {
		t.Fatalf("status = %s (%s)", exec.Status, exec.Error)
	}
	if exec.TaskType != TaskTypeText {
		t.Errorf("task type = %s", exec.TaskType)
	}
	if exec.Output != long {
		t.Errorf("output = %q", exec.Output)
	}
}

func TestPrimeValidation(t *testing.T) {
	subs, execs := setupStack(t, textAdapter(textOK("x")), nil)
	prime := newPrime(t, subs, execs, nil)

	if _, err := prime.Execute(context.Background(), "", &PrimeWorkflowParams{Title: "no task id"}); err == nil {
		t.Error("missing task_id must be rejected")
	}
	if _, err := prime.Execute(context.Background(), "", &PrimeWorkflowParams{TaskID: "T11"}); err == nil {
		t.Error("missing title must be rejected")
	}
}

func TestPrimeDuplicateExecution(t *testing.T) {
	subs, execs := setupStack(t, textAdapter(textOK(strings.Repeat("z", 120))), nil)
	prime := newPrime(t, subs, execs, nil)
	params := &PrimeWorkflowParams{TaskID: "T12", Title: "task"}

	if _, err := prime.Execute(context.Background(), "E1", params); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if _, err := prime.Execute(context.Background(), "E1", params); err != ErrDuplicateExecution {
		t.Errorf("err = %v, want ErrDuplicateExecution", err)
	}
}

func TestPrimeDefenseInDepthDowngrade(t *testing.T) {
	adapter := textAdapter(textOK("I couldn't find any file named test.txt in the repo, so nothing was changed there at all." + strings.Repeat(" padding", 10)))
	subs, execs := setupStack(t, adapter, nil)
	prime := newPrime(t, subs, execs, nil)

	id, err := prime.Execute(context.Background(), "", &PrimeWorkflowParams{
		TaskID: "T13", Title: "[research] find the config file",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	exec := waitTerminal(t, prime, id)
	if exec.Status != StatusErrored {
		t.Fatalf("status = %s, want errored", exec.Status)
	}
	if exec.Error != ErrMsgIncompleteTask {
		t.Errorf("error = %q, want %q", exec.Error, ErrMsgIncompleteTask)
	}
}

func TestPrimeShortOutputDowngrade(t *testing.T) {
	adapter := textAdapter(textOK("done"))
	subs, execs := setupStack(t, adapter, nil)
	prime := newPrime(t, subs, execs, nil)

	id, err := prime.Execute(context.Background(), "", &PrimeWorkflowParams{
		TaskID: "T14", Title: "[write] release notes",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	exec := waitTerminal(t, prime, id)
	if exec.Status != StatusErrored || !strings.Contains(exec.Error, ErrMsgIncompleteTask) {
		t.Errorf("exec = %+v", exec)
	}
}

func TestPrimeTimeoutIsFinal(t *testing.T) {
	long := strings.Repeat("The report was produced with every requested section included. ", 3)
	adapter := textAdapter(textOK(long))
	adapter.delay = 100 * time.Millisecond
	subs, execs := setupStack(t, adapter, nil)
	prime := NewPrimeOrchestrator(execs, subs, nil,
		WithPollInterval(time.Millisecond), WithMaxPollAttempts(3))

	id, err := prime.Execute(context.Background(), "", &PrimeWorkflowParams{
		TaskID: "T16", Title: "[write] status report",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	exec := waitTerminal(t, prime, id)
	if exec.Status != StatusErrored || !strings.Contains(exec.Error, "timed out") {
		t.Fatalf("exec = %+v", exec)
	}

	// Let the sub-workflow finish behind the timeout, then recheck: a late
	// result must not reopen the closed execution.
	time.Sleep(200 * time.Millisecond)
	exec, err = prime.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if exec.Status != StatusErrored {
		t.Errorf("status = %s, want errored to stay final", exec.Status)
	}
	if !strings.Contains(exec.Error, "timed out") {
		t.Errorf("error = %q", exec.Error)
	}
	if exec.Output != "" {
		t.Errorf("output = %q, want empty", exec.Output)
	}
}

func TestPrimeCallbackDelivery(t *testing.T) {
	payloadCh := make(chan CallbackPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p CallbackPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			payloadCh <- p
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	long := strings.Repeat("All migration steps completed and verified against staging. ", 3)
	subs, execs := setupStack(t, textAdapter(textOK(long)), nil)
	prime := newPrime(t, subs, execs, NewCallbackSender("secret", WithCallbackBackoff(time.Millisecond)))

	_, err := prime.Execute(context.Background(), "", &PrimeWorkflowParams{
		TaskID:      "T15",
		Title:       "[write] migration summary",
		CallbackURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	select {
	case p := <-payloadCh:
		if p.TaskID != "T15" || p.Status != "completed" || p.Output != long {
			t.Errorf("payload = %+v", p)
		}
		if p.DurationMs <= 0 {
			t.Error("duration must be set")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not delivered")
	}
}
