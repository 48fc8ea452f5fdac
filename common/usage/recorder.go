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

package usage

import (
	"database/sql"
	"log"
)

// APICallEvent is one inbound HTTP request observation.
type APICallEvent struct {
	InstanceID     string
	HTTPMethod     string
	HTTPPath       string
	HTTPStatusCode int
	LatencyMs      int64
}

// Recorder persists usage events to PostgreSQL. A nil-db Recorder is valid
// and drops all events, so callers never need a nil check.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a recorder over an open database handle. db may be nil.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// RecordAPICall records one HTTP request. Errors are logged, never returned
// to the request path.
func (r *Recorder) RecordAPICall(event APICallEvent) {
	if r == nil || r.db == nil {
		return
	}
	_, err := r.db.Exec(`
		INSERT INTO usage_events (
			event_type, instance_id, http_method, http_path,
			http_status_code, latency_ms
		) VALUES ('api_call', $1, $2, $3, $4, $5)
	`, event.InstanceID, event.HTTPMethod, event.HTTPPath,
		event.HTTPStatusCode, event.LatencyMs)
	if err != nil {
		log.Printf("[USAGE] Failed to record API call: %v", err)
	}
}
