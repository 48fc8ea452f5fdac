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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes routing and workflow metrics via Prometheus.
// It implements media.RouterMetrics.
type MetricsCollector struct {
	requestsTotal   *prometheus.CounterVec
	attemptsTotal   *prometheus.CounterVec
	failoversTotal  *prometheus.CounterVec
	attemptLatency  *prometheus.HistogramVec
	workflowSteps   *prometheus.CounterVec
	executionsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a collector and registers its metrics with the
// given registerer. Pass prometheus.DefaultRegisterer in production.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	c := &MetricsCollector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_requests_total",
			Help: "Routed requests by worker and outcome.",
		}, []string{"worker", "outcome"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_provider_attempts_total",
			Help: "Adapter execution attempts by provider, worker, and outcome.",
		}, []string{"provider", "worker", "outcome"}),
		failoversTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_provider_failovers_total",
			Help: "Failovers between providers in the routing chain.",
		}, []string{"from_provider", "to_provider", "worker"}),
		attemptLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conduit_provider_attempt_duration_seconds",
			Help:    "Adapter execution latency by provider.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider"}),
		workflowSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_workflow_steps_total",
			Help: "Workflow step executions by workflow, step, and outcome.",
		}, []string{"workflow", "step", "outcome"}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_executions_total",
			Help: "Orchestrated task executions by task type and outcome.",
		}, []string{"task_type", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(c.requestsTotal, c.attemptsTotal, c.failoversTotal,
			c.attemptLatency, c.workflowSteps, c.executionsTotal)
	}
	return c
}

// RecordRequest records a routed request outcome.
func (c *MetricsCollector) RecordRequest(workerID string, success bool) {
	c.requestsTotal.WithLabelValues(workerID, outcomeLabel(success)).Inc()
}

// RecordAttempt implements media.RouterMetrics.
func (c *MetricsCollector) RecordAttempt(providerID, workerID string, success bool, latency time.Duration) {
	c.attemptsTotal.WithLabelValues(providerID, workerID, outcomeLabel(success)).Inc()
	c.attemptLatency.WithLabelValues(providerID).Observe(latency.Seconds())
}

// RecordFailover implements media.RouterMetrics.
func (c *MetricsCollector) RecordFailover(fromProvider, toProvider, workerID string) {
	c.failoversTotal.WithLabelValues(fromProvider, toProvider, workerID).Inc()
}

// RecordWorkflowStep records a workflow step outcome.
func (c *MetricsCollector) RecordWorkflowStep(workflowID, stepID string, success bool) {
	c.workflowSteps.WithLabelValues(workflowID, stepID, outcomeLabel(success)).Inc()
}

// RecordExecution records an orchestrated task execution outcome.
func (c *MetricsCollector) RecordExecution(taskType string, success bool) {
	c.executionsTotal.WithLabelValues(taskType, outcomeLabel(success)).Inc()
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
