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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionStoreDuplicateID(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore()

	require.NoError(t, store.Create(ctx, &Execution{ID: "T42", TaskID: "T42", TaskType: TaskTypeCode}))

	err := store.Create(ctx, &Execution{ID: "T42", TaskID: "T42"})
	assert.ErrorIs(t, err, ErrDuplicateExecution)

	// The first execution is untouched.
	exec, err := store.Get(ctx, "T42")
	require.NoError(t, err)
	assert.Equal(t, TaskTypeCode, exec.TaskType)
	assert.Equal(t, StatusQueued, exec.Status)
}

func TestExecutionStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewExecutionStore()
	require.NoError(t, store.Create(ctx, &Execution{ID: "e1"}))

	require.NoError(t, store.Update(ctx, "e1", func(e *Execution) {
		e.Status = StatusComplete
		e.Output = "done"
	}))

	exec, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, exec.Status)
	assert.Equal(t, "done", exec.Output)

	assert.ErrorIs(t, store.Update(ctx, "missing", func(*Execution) {}), ErrExecutionNotFound)
	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestExecutionStoreRedisGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	a := NewExecutionStore(WithRedisGuard(client))
	b := NewExecutionStore(WithRedisGuard(client)) // second replica

	require.NoError(t, a.Create(ctx, &Execution{ID: "T1"}))
	assert.ErrorIs(t, b.Create(ctx, &Execution{ID: "T1"}), ErrDuplicateExecution,
		"duplicate across replicas must be rejected via the Redis guard")
	assert.NoError(t, b.Create(ctx, &Execution{ID: "T2"}))
}

func TestExecutionStoreRedisDownDegrades(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	store := NewExecutionStore(WithRedisGuard(client))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Execution{ID: "T1"}))
	assert.ErrorIs(t, store.Create(ctx, &Execution{ID: "T1"}), ErrDuplicateExecution,
		"in-memory guard still applies when Redis is down")
}

func TestExecutionStatusTerminal(t *testing.T) {
	for _, s := range []ExecutionStatus{StatusComplete, StatusErrored, StatusTerminated, StatusQuarantined} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []ExecutionStatus{StatusQueued, StatusRunning, StatusPaused, StatusWaiting} {
		assert.False(t, s.Terminal(), string(s))
	}
}
