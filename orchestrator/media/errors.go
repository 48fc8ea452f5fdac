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
	"fmt"
	"strings"
)

// ErrorClass buckets adapter errors for the failover policy. Classification
// is substring matching over a closed, versioned vocabulary; keep the
// vocabularies here as the single source of truth and never scatter provider
// error strings into adapter code.
type ErrorClass string

const (
	// ErrorClassQuota means the provider is out of credits/quota. The
	// provider is marked exhausted for a cooldown and not retried.
	ErrorClassQuota ErrorClass = "quota"

	// ErrorClassTransient is a retryable infrastructure failure. Advance to
	// the next provider in the chain.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassAuth is a 401/403. Advance; operator action required.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassBadRequest is a 400: the request itself is malformed.
	// Abort the chain instead of burning the remaining providers.
	ErrorClassBadRequest ErrorClass = "bad_request"

	// ErrorClassOther is everything else. Advance.
	ErrorClassOther ErrorClass = "other"
)

// quotaPatterns match provider responses that mean "out of credits/quota".
var quotaPatterns = []string{
	"credit balance too low",
	"insufficient_quota",
	"insufficient credits",
	"quota exceeded",
	"billing hard limit",
	"exceeded your current quota",
	"out of credits",
	"subscription expired",
	"api key expired",
	"exceeded monthly limit",
	"payment required",
	"usage limit reached",
}

// transientPatterns match failures worth retrying on the next provider.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"network error",
	"temporarily unavailable",
	"service overloaded",
	"overloaded_error",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
}

// authPatterns match authentication/authorization failures.
var authPatterns = []string{
	"status 401",
	"status 403",
	"unauthorized",
	"invalid api key",
	"invalid x-api-key",
	"authentication_error",
	"permission_error",
}

// badRequestPatterns match malformed-request responses.
var badRequestPatterns = []string{
	"status 400",
	"invalid_request_error",
	"validation_error",
}

// ClassifyError classifies an adapter error message. Quota is checked first:
// several vendors return quota errors with a 429 status, and the quota policy
// (exhaust + cooldown) must win over the transient policy (plain retry).
func ClassifyError(msg string) ErrorClass {
	lower := strings.ToLower(msg)

	for _, p := range quotaPatterns {
		if strings.Contains(lower, p) {
			return ErrorClassQuota
		}
	}
	for _, p := range badRequestPatterns {
		if strings.Contains(lower, p) {
			return ErrorClassBadRequest
		}
	}
	for _, p := range authPatterns {
		if strings.Contains(lower, p) {
			return ErrorClassAuth
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return ErrorClassTransient
		}
	}
	return ErrorClassOther
}

// Stable error codes surfaced in route envelopes and HTTP responses.
const (
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeNoAvailableProvider = "NO_AVAILABLE_PROVIDER"
	ErrCodeAllProvidersFailed  = "ALL_PROVIDERS_FAILED"
	ErrCodeMissingAPIKey       = "MISSING_API_KEY"
	ErrCodeModelNotFound       = "MODEL_NOT_FOUND"
	ErrCodeProviderBadRequest  = "PROVIDER_BAD_REQUEST"
	ErrCodeAdapterNotFound     = "ADAPTER_NOT_FOUND"
)

// RouteError is a routing-layer error with a stable machine-readable code.
type RouteError struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *RouteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *RouteError) Unwrap() error {
	return e.Cause
}

// NewRouteError creates a RouteError.
func NewRouteError(code, format string, args ...any) *RouteError {
	return &RouteError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AdapterHTTPError builds the error an adapter surfaces for a non-2xx
// provider response. The message carries the numeric status and the body:
// that is exactly what the taxonomy patterns match against.
func AdapterHTTPError(providerID string, status int, body []byte) error {
	b := strings.TrimSpace(string(body))
	if len(b) > 512 {
		b = b[:512]
	}
	return fmt.Errorf("%s API error (status %d): %s", providerID, status, b)
}
