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

/*
Package orchestrator is the entry layer of the Conduit service: it accepts
tasks over HTTP, classifies them, and drives them to completion through the
media routing stack.

# Overview

A task enters through POST /execute with a uniform parameter envelope. The
entry orchestrator classifies it (code, text, image, audio, video, or
shipping research), records an execution, and launches the matching
sub-workflow in the background. The caller polls GET /status/{id} or
receives a callback when the task reaches a terminal state.

The layers underneath:

  - classifier: task-type decision from context signals, title tags,
    content keywords, and caller hints
  - tier classifier: text-only vs code routing for text tasks, with
    queue-congestion demotion
  - waterfall resolver: the ordered model list for code execution
  - sub-workflows: per-task-type drivers over the media router
  - workflow engine: multi-step DAG execution with template expansion
  - execution store: in-memory state with an optional Redis duplicate guard
  - validator: defense-in-depth check that downgrades success responses
    whose output looks like a failure

Provider selection, failover, and the per-vendor adapters live in the
media and catalog subpackages.
*/
package orchestrator
