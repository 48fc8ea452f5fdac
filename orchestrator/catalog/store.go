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

package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store is the persistence interface behind the Registry. Implementations
// must make each mutation a single atomic row update: a failed write must
// never leave the row half-changed.
type Store interface {
	// Reads.
	GetWorker(ctx context.Context, id string) (*Worker, error)
	GetProvider(ctx context.Context, id string) (*Provider, error)
	GetProvidersForWorker(ctx context.Context, workerID string) ([]Provider, error)
	GetModelsForProvider(ctx context.Context, providerID, workerID string) ([]Model, error)
	GetProviderStatus(ctx context.Context, providerID string) (*ProviderStatus, error)

	// Health mutations.
	MarkProviderExhausted(ctx context.Context, providerID string, until time.Time) error
	MarkProviderHealthy(ctx context.Context, providerID string) error
	IncrementProviderFailures(ctx context.Context, providerID string) error

	// Workflow definitions.
	SaveWorkflow(ctx context.Context, def *WorkflowDefinition) error
	GetWorkflow(ctx context.Context, id string) (*WorkflowDefinition, error)
	ListWorkflows(ctx context.Context) ([]WorkflowDefinition, error)

	// RecordUsage persists per-request usage metadata. Best-effort: callers
	// log and continue on error.
	RecordUsage(ctx context.Context, usage *RequestUsage) error
}

// ErrNotFound is returned by store reads when the row does not exist.
var ErrNotFound = errors.New("catalog: not found")

// RequestUsage contains usage metadata recorded after each routed request.
type RequestUsage struct {
	RequestID    string
	ProviderID   string
	ModelID      string
	WorkerID     string
	TokensUsed   int
	CostCents    float64
	LatencyMs    int64
	Status       string // "success", "error", "timeout", "quota"
	ErrorMessage string
}

// failureUnhealthyThreshold is the consecutive-failure count at which a
// provider is flagged unhealthy.
const failureUnhealthyThreshold = 5

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetWorker retrieves a worker by id.
func (s *PostgresStore) GetWorker(ctx context.Context, id string) (*Worker, error) {
	query := `
		SELECT id, name, media_types, enabled, created_at
		FROM workers
		WHERE id = $1
	`

	var w Worker
	var mediaTypesJSON []byte

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&w.ID, &w.Name, &mediaTypesJSON, &w.Enabled, &w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("worker %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}

	if len(mediaTypesJSON) > 0 {
		if err := json.Unmarshal(mediaTypesJSON, &w.MediaTypes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal media types: %w", err)
		}
	}

	return &w, nil
}

// GetProvider retrieves a provider by id.
func (s *PostgresStore) GetProvider(ctx context.Context, id string) (*Provider, error) {
	query := `
		SELECT id, name, type, base_endpoint, auth_type, auth_secret_name,
		       priority, enabled, rate_limit_rpm, daily_quota, created_at
		FROM providers
		WHERE id = $1
	`

	p, err := scanProvider(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("provider %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return p, nil
}

// GetProvidersForWorker returns providers mapped to a worker, ordered by the
// effective priority. A per-worker priority in worker_providers overrides the
// provider's global priority when set (non-null).
func (s *PostgresStore) GetProvidersForWorker(ctx context.Context, workerID string) ([]Provider, error) {
	query := `
		SELECT p.id, p.name, p.type, p.base_endpoint, p.auth_type, p.auth_secret_name,
		       COALESCE(wp.priority, p.priority) AS priority,
		       p.enabled, p.rate_limit_rpm, p.daily_quota, p.created_at
		FROM providers p
		JOIN worker_providers wp ON wp.provider_id = p.id
		WHERE wp.worker_id = $1
		ORDER BY COALESCE(wp.priority, p.priority) ASC, p.id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers for worker %q: %w", workerID, err)
	}
	defer rows.Close()

	var providers []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating providers: %w", err)
	}

	return providers, nil
}

// GetModelsForProvider returns enabled models for a provider/worker pair in
// model priority order.
func (s *PostgresStore) GetModelsForProvider(ctx context.Context, providerID, workerID string) ([]Model, error) {
	query := `
		SELECT id, provider_id, model_id, worker_id, capabilities, context_window,
		       cost_input_per_1k, cost_output_per_1k, quality_tier, speed_tier,
		       priority, enabled
		FROM models
		WHERE provider_id = $1 AND worker_id = $2 AND enabled = true
		ORDER BY priority ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, providerID, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var models []Model
	for rows.Next() {
		var m Model
		var capabilitiesJSON []byte
		var contextWindow sql.NullInt64

		err := rows.Scan(
			&m.ID, &m.ProviderID, &m.ModelID, &m.WorkerID, &capabilitiesJSON,
			&contextWindow, &m.CostInputPer1K, &m.CostOutputPer1K,
			&m.QualityTier, &m.SpeedTier, &m.Priority, &m.Enabled,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}

		m.ContextWindow = int(contextWindow.Int64)
		if len(capabilitiesJSON) > 0 {
			if err := json.Unmarshal(capabilitiesJSON, &m.Capabilities); err != nil {
				return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
			}
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating models: %w", err)
	}

	return models, nil
}

// GetProviderStatus retrieves the mutable health row for a provider.
// A provider without a status row is treated as healthy with zero counters.
func (s *PostgresStore) GetProviderStatus(ctx context.Context, providerID string) (*ProviderStatus, error) {
	query := `
		SELECT provider_id, healthy, last_success_at, last_failure_at,
		       consecutive_failures, quota_used_today, quota_resets_at,
		       marked_exhausted_until
		FROM provider_status
		WHERE provider_id = $1
	`

	var st ProviderStatus
	var lastSuccess, lastFailure, quotaResets, exhaustedUntil sql.NullTime

	err := s.db.QueryRowContext(ctx, query, providerID).Scan(
		&st.ProviderID, &st.Healthy, &lastSuccess, &lastFailure,
		&st.ConsecutiveFailures, &st.QuotaUsedToday, &quotaResets,
		&exhaustedUntil,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &ProviderStatus{ProviderID: providerID, Healthy: true}, nil
		}
		return nil, fmt.Errorf("failed to get provider status: %w", err)
	}

	if lastSuccess.Valid {
		st.LastSuccessAt = &lastSuccess.Time
	}
	if lastFailure.Valid {
		st.LastFailureAt = &lastFailure.Time
	}
	if quotaResets.Valid {
		st.QuotaResetsAt = &quotaResets.Time
	}
	if exhaustedUntil.Valid {
		st.MarkedExhaustedUntil = &exhaustedUntil.Time
	}

	return &st, nil
}

// MarkProviderExhausted records a quota exhaustion deadline. Idempotent:
// re-marking an exhausted provider just moves the deadline.
func (s *PostgresStore) MarkProviderExhausted(ctx context.Context, providerID string, until time.Time) error {
	query := `
		INSERT INTO provider_status (provider_id, healthy, last_failure_at, consecutive_failures, marked_exhausted_until)
		VALUES ($1, false, NOW(), 1, $2)
		ON CONFLICT (provider_id) DO UPDATE SET
			healthy = false,
			last_failure_at = NOW(),
			marked_exhausted_until = EXCLUDED.marked_exhausted_until,
			consecutive_failures = provider_status.consecutive_failures + 1
	`

	if _, err := s.db.ExecContext(ctx, query, providerID, until); err != nil {
		return fmt.Errorf("failed to mark provider %q exhausted: %w", providerID, err)
	}
	return nil
}

// MarkProviderHealthy records a success: resets the failure counter and
// clears the exhaustion deadline.
func (s *PostgresStore) MarkProviderHealthy(ctx context.Context, providerID string) error {
	query := `
		INSERT INTO provider_status (provider_id, healthy, last_success_at, consecutive_failures)
		VALUES ($1, true, NOW(), 0)
		ON CONFLICT (provider_id) DO UPDATE SET
			healthy = true,
			last_success_at = NOW(),
			consecutive_failures = 0,
			marked_exhausted_until = NULL
	`

	if _, err := s.db.ExecContext(ctx, query, providerID); err != nil {
		return fmt.Errorf("failed to mark provider %q healthy: %w", providerID, err)
	}
	return nil
}

// IncrementProviderFailures bumps the consecutive-failure counter and flips
// the healthy flag once the counter reaches the unhealthy threshold.
func (s *PostgresStore) IncrementProviderFailures(ctx context.Context, providerID string) error {
	query := `
		INSERT INTO provider_status (provider_id, healthy, last_failure_at, consecutive_failures)
		VALUES ($1, true, NOW(), 1)
		ON CONFLICT (provider_id) DO UPDATE SET
			last_failure_at = NOW(),
			consecutive_failures = provider_status.consecutive_failures + 1,
			healthy = (provider_status.consecutive_failures + 1) < $2
	`

	if _, err := s.db.ExecContext(ctx, query, providerID, failureUnhealthyThreshold); err != nil {
		return fmt.Errorf("failed to increment failures for provider %q: %w", providerID, err)
	}
	return nil
}

// SaveWorkflow persists a workflow definition (upsert by id).
func (s *PostgresStore) SaveWorkflow(ctx context.Context, def *WorkflowDefinition) error {
	if def == nil {
		return errors.New("workflow definition cannot be nil")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	definitionJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow definition: %w", err)
	}

	query := `
		INSERT INTO workflows (id, name, description, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			definition = EXCLUDED.definition,
			updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, def.ID, def.Name, def.Description, definitionJSON); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow definition by id.
func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*WorkflowDefinition, error) {
	query := `SELECT definition FROM workflows WHERE id = $1`

	var definitionJSON []byte
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&definitionJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	var def WorkflowDefinition
	if err := json.Unmarshal(definitionJSON, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow definition: %w", err)
	}
	return &def, nil
}

// ListWorkflows returns all stored workflow definitions ordered by id.
func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]WorkflowDefinition, error) {
	query := `SELECT definition FROM workflows ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var defs []WorkflowDefinition
	for rows.Next() {
		var definitionJSON []byte
		if err := rows.Scan(&definitionJSON); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		var def WorkflowDefinition
		if err := json.Unmarshal(definitionJSON, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return defs, nil
}

// RecordUsage records usage metadata for a routed request.
func (s *PostgresStore) RecordUsage(ctx context.Context, usage *RequestUsage) error {
	query := `
		INSERT INTO request_usage (
			request_id, provider_id, model_id, worker_id,
			tokens_used, cost_cents, latency_ms, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.RequestID, usage.ProviderID, usage.ModelID, usage.WorkerID,
		usage.TokensUsed, usage.CostCents, usage.LatencyMs,
		usage.Status, usage.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (*Provider, error) {
	var p Provider
	var baseEndpoint, authSecretName sql.NullString
	var rateLimit, dailyQuota sql.NullInt64

	err := row.Scan(
		&p.ID, &p.Name, &p.Kind, &baseEndpoint, &p.AuthType, &authSecretName,
		&p.Priority, &p.Enabled, &rateLimit, &dailyQuota, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.BaseEndpoint = baseEndpoint.String
	p.AuthSecretName = authSecretName.String
	p.RateLimitRPM = int(rateLimit.Int64)
	p.DailyQuota = int(dailyQuota.Int64)

	return &p, nil
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
