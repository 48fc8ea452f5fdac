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

// Package main is the entry point for the Conduit orchestrator service.
//
// Conduit routes generative-media requests (text, image, audio, video)
// across multiple providers with priority-ordered failover, executes
// multi-step workflows, and drives long-running tasks through the entry
// orchestrator with status polling and callbacks.
//
// Usage:
//
//	./conduit
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8081)
//	DATABASE_URL - PostgreSQL connection string (optional; in-memory catalog otherwise)
//	REDIS_ADDR - Redis address for the duplicate-execution guard (optional)
//	WORKFLOW_PASSPHRASE - shared secret for /execute and callbacks
//	ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY, ... - provider credentials
//	AI_GATEWAY_TOKEN, AI_GATEWAY_BASE_URL - gateway BYOK routing (optional)
//	QUEUE_SERVICE_URL - task queue for congestion-aware tier demotion (optional)
//	RUNNER_BASE_URL - video render runner endpoint (optional)
//	CONDUIT_CONFIG_FILE - YAML overlay for any of the above (optional)
package main

import (
	"axonflow/conduit/orchestrator"
)

func main() {
	orchestrator.Run()
}
