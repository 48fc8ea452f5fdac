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
	"errors"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want ErrorClass
	}{
		{
			name: "anthropic credit balance",
			msg:  "anthropic API error (status 400): Your credit balance too low to access the Anthropic API",
			want: ErrorClassQuota,
		},
		{
			name: "openai insufficient quota",
			msg:  "openai API error (status 429): You exceeded your current quota, please check your plan",
			want: ErrorClassQuota,
		},
		{
			name: "quota wins over 429 transient",
			msg:  "status 429: insufficient_quota",
			want: ErrorClassQuota,
		},
		{
			name: "plain rate limit is transient",
			msg:  "openai API error (status 429): Rate limit reached, retry after 2s",
			want: ErrorClassTransient,
		},
		{
			name: "server error",
			msg:  "gemini API error (status 500): internal server error",
			want: ErrorClassTransient,
		},
		{
			name: "bad gateway",
			msg:  "replicate API error (status 502): bad gateway",
			want: ErrorClassTransient,
		},
		{
			name: "connection refused",
			msg:  "vllm API error: dial tcp 10.0.0.5:8000: connection refused",
			want: ErrorClassTransient,
		},
		{
			name: "timeout",
			msg:  "context deadline exceeded: request timed out",
			want: ErrorClassTransient,
		},
		{
			name: "unauthorized",
			msg:  "anthropic API error (status 401): invalid x-api-key",
			want: ErrorClassAuth,
		},
		{
			name: "forbidden",
			msg:  "elevenlabs API error (status 403): access denied",
			want: ErrorClassAuth,
		},
		{
			name: "malformed request",
			msg:  "openai API error (status 400): invalid_request_error: max_tokens too large",
			want: ErrorClassBadRequest,
		},
		{
			name: "unknown error",
			msg:  "something unexpected happened",
			want: ErrorClassOther,
		},
		{
			name: "case insensitive",
			msg:  "QUOTA EXCEEDED for project",
			want: ErrorClassQuota,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.msg); got != tt.want {
				t.Errorf("ClassifyError(%q) = %q, want %q", tt.msg, got, tt.want)
			}
		})
	}
}

func TestAdapterHTTPError(t *testing.T) {
	err := AdapterHTTPError("openai", 429, []byte("  rate limited  "))
	if got := err.Error(); got != "openai API error (status 429): rate limited" {
		t.Errorf("unexpected message: %q", got)
	}

	long := strings.Repeat("x", 2000)
	err = AdapterHTTPError("gemini", 500, []byte(long))
	if len(err.Error()) > 600 {
		t.Errorf("body should be truncated, got %d chars", len(err.Error()))
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("message must carry the numeric status: %q", err.Error())
	}
}

func TestRouteErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := &RouteError{Code: ErrCodeProviderBadRequest, Message: "bad", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("RouteError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), ErrCodeProviderBadRequest) {
		t.Errorf("Error() should include the code: %q", err.Error())
	}
}
