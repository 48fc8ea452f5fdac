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

package media

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"axonflow/conduit/common/usage"
	"axonflow/conduit/orchestrator/catalog"
)

// DefaultQuotaCooldown is how long a provider stays exhausted after a quota
// error, unless overridden with WithQuotaCooldown.
const DefaultQuotaCooldown = 60 * time.Minute

// Router walks the selector chain for a request, failing over between
// providers according to the error taxonomy.
type Router struct {
	registry     *catalog.Registry
	selector     *Selector
	adapters     *AdapterRegistry
	transformers *TransformerRegistry
	credentials  *EnvCredentials
	logger       *log.Logger

	quotaCooldown time.Duration
	metrics       RouterMetrics
	now           func() time.Time
}

// RouterMetrics receives routing events. The Prometheus collector implements
// it; tests use a recording fake.
type RouterMetrics interface {
	RecordAttempt(providerID, workerID string, success bool, latency time.Duration)
	RecordFailover(fromProvider, toProvider, workerID string)
}

// noopMetrics is used when no collector is installed.
type noopMetrics struct{}

func (noopMetrics) RecordAttempt(string, string, bool, time.Duration) {}
func (noopMetrics) RecordFailover(string, string, string)            {}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithQuotaCooldown overrides the exhaustion cooldown applied on quota errors.
func WithQuotaCooldown(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.quotaCooldown = d
		}
	}
}

// WithRouterMetrics installs a metrics sink.
func WithRouterMetrics(m RouterMetrics) RouterOption {
	return func(r *Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithRouterLogger overrides the default logger.
func WithRouterLogger(logger *log.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRouterClock overrides the clock (used by tests).
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter creates a router over the registry, adapters, and credentials.
func NewRouter(registry *catalog.Registry, adapters *AdapterRegistry, credentials *EnvCredentials, opts ...RouterOption) *Router {
	r := &Router{
		registry:      registry,
		selector:      NewSelector(registry),
		adapters:      adapters,
		transformers:  NewTransformerRegistry(),
		credentials:   credentials,
		logger:        log.New(os.Stdout, "[MEDIA_ROUTER] ", log.LstdFlags),
		quotaCooldown: DefaultQuotaCooldown,
		metrics:       noopMetrics{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route executes one request against the failover chain. It never returns a
// Go error for provider failures; the envelope carries success, error text,
// and the attempted provider list.
func (r *Router) Route(ctx context.Context, req SimpleRequest) *RouteResult {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	res := &RouteResult{RequestID: req.RequestID, AttemptedProviders: []string{}}

	if strings.TrimSpace(req.Prompt) == "" {
		res.Error = "prompt must not be blank"
		res.ErrorCode = ErrCodeInvalidRequest
		return res
	}
	if req.Worker == "" {
		res.Error = "worker is required"
		res.ErrorCode = ErrCodeInvalidRequest
		return res
	}

	chain, err := r.selector.BuildChain(ctx, req.Worker, req.Constraints, req.PreferProvider, req.PreferModel)
	if err != nil {
		res.Error = err.Error()
		if re, ok := err.(*RouteError); ok {
			res.ErrorCode = re.Code
		} else {
			res.ErrorCode = ErrCodeNoAvailableProvider
		}
		return res
	}

	var lastErr string
	var prevProvider string
	exhausted := make(map[string]bool)
	for _, pm := range chain {
		if exhausted[pm.Provider.ID] {
			continue
		}
		if prevProvider != "" && prevProvider != pm.Provider.ID {
			r.metrics.RecordFailover(prevProvider, pm.Provider.ID, req.Worker)
		}
		prevProvider = pm.Provider.ID

		result, attemptErr := r.attempt(ctx, &req, pm, res)
		if attemptErr == nil {
			res.Success = true
			res.Result = result
			return res
		}

		lastErr = attemptErr.Error()
		if re, ok := attemptErr.(*RouteError); ok && re.Code == ErrCodeProviderBadRequest {
			// The request itself is malformed; every provider would reject it.
			res.Error = lastErr
			res.ErrorCode = ErrCodeProviderBadRequest
			return res
		}
		if ClassifyError(lastErr) == ErrorClassQuota {
			// No point trying the provider's other models on a quota error.
			exhausted[pm.Provider.ID] = true
		}
	}

	res.Error = "all providers failed"
	if lastErr != "" {
		res.Error = "all providers failed, last error: " + lastErr
	}
	res.ErrorCode = ErrCodeAllProvidersFailed
	return res
}

// attempt runs one chain link. The returned error is a *RouteError for
// chain-aborting conditions and a raw adapter error otherwise.
func (r *Router) attempt(ctx context.Context, req *SimpleRequest, pm ProviderModel, res *RouteResult) (*MediaResult, error) {
	provider := pm.Provider
	model := pm.Model

	adapter, ok := r.adapters.Get(provider.ID)
	if !ok {
		r.logger.Printf("WARN: no adapter registered for provider %s, skipping", provider.ID)
		return nil, NewRouteError(ErrCodeAdapterNotFound, "no adapter for provider %q", provider.ID)
	}

	recordAttemptedProvider(res, provider.ID)

	apiKey, gateway, err := r.resolveAuth(&provider)
	if err != nil {
		r.logger.Printf("WARN: provider %s: %v", provider.ID, err)
		return nil, err
	}

	transformed := r.transformers.Apply(TransformInput{
		Worker:       req.Worker,
		Provider:     provider.ID,
		Model:        model.ModelID,
		TaskType:     req.Options.TaskType,
		Capabilities: requestedCapabilities(req.Constraints),
		Prompt:       req.Prompt,
		SystemPrompt: req.Options.SystemPrompt,
	})

	areq := AdapterRequest{
		RequestID:    req.RequestID,
		Worker:       req.Worker,
		Prompt:       transformed.Prompt,
		SystemPrompt: transformed.SystemPrompt,
		Model:        model.ModelID,
		APIKey:       apiKey,
		Gateway:      gateway,
		Options:      req.Options,
		Timeout:      DefaultAdapterTimeout(req.Worker),
	}

	start := r.now()
	result, execErr := adapter.Execute(ctx, areq)
	latency := r.now().Sub(start)
	r.metrics.RecordAttempt(provider.ID, req.Worker, execErr == nil, latency)

	if execErr == nil {
		if markErr := r.registry.MarkProviderHealthy(ctx, provider.ID); markErr != nil {
			r.logger.Printf("WARN: marking provider %s healthy: %v", provider.ID, markErr)
		}
		result.Provider = provider.ID
		result.Model = model.ModelID
		result.Worker = req.Worker
		result.DurationMs = latency.Milliseconds()

		res.Meta = StepMeta{
			Provider:   provider.ID,
			Model:      model.ModelID,
			LatencyMs:  latency.Milliseconds(),
			TokensUsed: result.TokensUsed,
			CostCents:  usage.EstimateCostCents(result.TokensUsed, model.CostInputPer1K, model.CostOutputPer1K),
		}
		r.recordUsage(ctx, req, &provider, &model, result, latency, nil)
		return result, nil
	}

	r.recordUsage(ctx, req, &provider, &model, nil, latency, execErr)
	return nil, r.applyFailurePolicy(ctx, provider.ID, execErr)
}

// applyFailurePolicy classifies an adapter error and updates health state.
func (r *Router) applyFailurePolicy(ctx context.Context, providerID string, execErr error) error {
	class := ClassifyError(execErr.Error())
	switch class {
	case ErrorClassQuota:
		until := r.now().Add(r.quotaCooldown)
		r.logger.Printf("provider %s quota exhausted, cooling down until %s: %v", providerID, until.Format(time.RFC3339), execErr)
		if err := r.registry.MarkProviderExhausted(ctx, providerID, until); err != nil {
			r.logger.Printf("WARN: marking provider %s exhausted: %v", providerID, err)
		}
		return execErr

	case ErrorClassBadRequest:
		r.logger.Printf("provider %s rejected request as malformed: %v", providerID, execErr)
		return &RouteError{Code: ErrCodeProviderBadRequest, Message: execErr.Error(), Cause: execErr}

	default:
		r.logger.Printf("provider %s failed (%s), trying next: %v", providerID, class, execErr)
		if err := r.registry.IncrementProviderFailures(ctx, providerID); err != nil {
			r.logger.Printf("WARN: incrementing failures for provider %s: %v", providerID, err)
		}
		return execErr
	}
}

// resolveAuth resolves the credential and routing for a provider:
// explicit provider secret wins for the direct path, gateway token covers
// gateway-supported providers, local providers need neither.
func (r *Router) resolveAuth(p *catalog.Provider) (string, GatewayRoute, error) {
	gateway := ResolveGatewayRoute(r.credentials, p.ID, p.BaseEndpoint)

	if p.Kind == catalog.ProviderKindLocal || p.AuthType == catalog.AuthTypeNone {
		return "", GatewayRoute{BaseURL: p.BaseEndpoint}, nil
	}

	if p.AuthSecretName != "" {
		if key, ok := r.credentials.Secret(p.AuthSecretName); ok {
			return key, gateway, nil
		}
	}
	if gateway.Token != "" {
		// Gateway BYOK covers the call without a provider-specific key.
		return "", gateway, nil
	}
	return "", gateway, NewRouteError(ErrCodeMissingAPIKey, "no API key available for provider %q (secret %q)", p.ID, p.AuthSecretName)
}

func (r *Router) recordUsage(ctx context.Context, req *SimpleRequest, p *catalog.Provider, m *catalog.Model, result *MediaResult, latency time.Duration, execErr error) {
	u := &catalog.RequestUsage{
		RequestID:  req.RequestID,
		WorkerID:   req.Worker,
		ProviderID: p.ID,
		ModelID:    m.ModelID,
		LatencyMs:  latency.Milliseconds(),
		Status:     "success",
	}
	if result != nil {
		u.TokensUsed = result.TokensUsed
		u.CostCents = usage.EstimateCostCents(result.TokensUsed, m.CostInputPer1K, m.CostOutputPer1K)
	}
	if execErr != nil {
		u.ErrorMessage = execErr.Error()
		switch {
		case ClassifyError(u.ErrorMessage) == ErrorClassQuota:
			u.Status = "quota"
		case strings.Contains(strings.ToLower(u.ErrorMessage), "timeout"),
			strings.Contains(strings.ToLower(u.ErrorMessage), "timed out"):
			u.Status = "timeout"
		default:
			u.Status = "error"
		}
	}
	r.registry.RecordUsage(ctx, u)
}

// RouteStream is the streaming variant for text providers. It walks the same
// chain; providers whose adapter cannot stream are skipped. Failover is only
// possible before the first delta is emitted.
func (r *Router) RouteStream(ctx context.Context, req SimpleRequest) (<-chan StreamDelta, *RouteResult) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	res := &RouteResult{RequestID: req.RequestID, AttemptedProviders: []string{}}

	if strings.TrimSpace(req.Prompt) == "" {
		res.Error = "prompt must not be blank"
		res.ErrorCode = ErrCodeInvalidRequest
		return nil, res
	}

	chain, err := r.selector.BuildChain(ctx, req.Worker, req.Constraints, req.PreferProvider, req.PreferModel)
	if err != nil {
		res.Error = err.Error()
		res.ErrorCode = ErrCodeNoAvailableProvider
		return nil, res
	}

	var lastErr string
	for _, pm := range chain {
		adapter, ok := r.adapters.Get(pm.Provider.ID)
		if !ok {
			continue
		}
		streamer, ok := adapter.(StreamingAdapter)
		if !ok {
			continue
		}

		recordAttemptedProvider(res, pm.Provider.ID)

		apiKey, gateway, authErr := r.resolveAuth(&pm.Provider)
		if authErr != nil {
			lastErr = authErr.Error()
			continue
		}

		transformed := r.transformers.Apply(TransformInput{
			Worker:       req.Worker,
			Provider:     pm.Provider.ID,
			Model:        pm.Model.ModelID,
			TaskType:     req.Options.TaskType,
			Capabilities: requestedCapabilities(req.Constraints),
			Prompt:       req.Prompt,
			SystemPrompt: req.Options.SystemPrompt,
		})

		deltas, streamErr := streamer.ExecuteStream(ctx, AdapterRequest{
			RequestID:    req.RequestID,
			Worker:       req.Worker,
			Prompt:       transformed.Prompt,
			SystemPrompt: transformed.SystemPrompt,
			Model:        pm.Model.ModelID,
			APIKey:       apiKey,
			Gateway:      gateway,
			Options:      req.Options,
			Timeout:      DefaultAdapterTimeout(req.Worker),
		})
		if streamErr != nil {
			lastErr = streamErr.Error()
			_ = r.applyFailurePolicy(ctx, pm.Provider.ID, streamErr)
			continue
		}

		if markErr := r.registry.MarkProviderHealthy(ctx, pm.Provider.ID); markErr != nil {
			r.logger.Printf("WARN: marking provider %s healthy: %v", pm.Provider.ID, markErr)
		}
		res.Success = true
		res.Meta = StepMeta{Provider: pm.Provider.ID, Model: pm.Model.ModelID}
		return deltas, res
	}

	res.Error = "all providers failed"
	if lastErr != "" {
		res.Error = "all providers failed, last error: " + lastErr
	}
	res.ErrorCode = ErrCodeAllProvidersFailed
	return nil, res
}

// recordAttemptedProvider appends a provider to the failure envelope. The
// chain lists one link per (provider, model) pair; the envelope reports each
// provider once per run of consecutive attempts.
func recordAttemptedProvider(res *RouteResult, providerID string) {
	if n := len(res.AttemptedProviders); n > 0 && res.AttemptedProviders[n-1] == providerID {
		return
	}
	res.AttemptedProviders = append(res.AttemptedProviders, providerID)
}

func requestedCapabilities(c *RequestConstraints) []string {
	if c == nil {
		return nil
	}
	return c.RequireCapabilities
}
