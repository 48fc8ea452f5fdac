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
	"os"
	"sync"
)

// Recognized credential identifiers. Providers reference these through
// auth_secret_name; values are injected as environment variables at start.
const (
	SecretAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	SecretOpenAIAPIKey     = "OPENAI_API_KEY"
	SecretGoogleAPIKey     = "GOOGLE_API_KEY"
	SecretIdeogramAPIKey   = "IDEOGRAM_API_KEY"
	SecretElevenLabsAPIKey = "ELEVENLABS_API_KEY"
	SecretReplicateToken   = "REPLICATE_API_TOKEN"
	SecretZaiAPIKey        = "ZAI_API_KEY"
	SecretBedrockRegion    = "BEDROCK_REGION"

	SecretVLLMBaseURL   = "VLLM_BASE_URL"
	SecretRunnerBaseURL = "RUNNER_BASE_URL"

	SecretGatewayToken   = "AI_GATEWAY_TOKEN"
	SecretGatewayBaseURL = "AI_GATEWAY_BASE_URL"

	SecretCFAccessClientID     = "CF_ACCESS_CLIENT_ID"
	SecretCFAccessClientSecret = "CF_ACCESS_CLIENT_SECRET"
)

// knownSecretNames is the closed set of credential identifiers loaded from
// the environment at start.
var knownSecretNames = []string{
	SecretAnthropicAPIKey,
	SecretOpenAIAPIKey,
	SecretGoogleAPIKey,
	SecretIdeogramAPIKey,
	SecretElevenLabsAPIKey,
	SecretReplicateToken,
	SecretZaiAPIKey,
	SecretBedrockRegion,
	SecretVLLMBaseURL,
	SecretRunnerBaseURL,
	SecretGatewayToken,
	SecretGatewayBaseURL,
	SecretCFAccessClientID,
	SecretCFAccessClientSecret,
}

// EnvCredentials resolves credential identifiers from values captured at
// construction time. It implements catalog.CredentialSource.
type EnvCredentials struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// LoadEnvCredentials captures the recognized credential identifiers from the
// environment. Unset and empty variables are treated as absent.
func LoadEnvCredentials() *EnvCredentials {
	c := &EnvCredentials{secrets: make(map[string]string)}
	for _, name := range knownSecretNames {
		if v := os.Getenv(name); v != "" {
			c.secrets[name] = v
		}
	}
	return c
}

// NewStaticCredentials builds a credential source from an explicit map
// (used by tests).
func NewStaticCredentials(secrets map[string]string) *EnvCredentials {
	c := &EnvCredentials{secrets: make(map[string]string, len(secrets))}
	for k, v := range secrets {
		if v != "" {
			c.secrets[k] = v
		}
	}
	return c
}

// Secret returns the credential value for a secret name.
func (c *EnvCredentials) Secret(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.secrets[name]
	return v, ok
}

// GatewayToken returns the AI-gateway bearer token, if configured.
func (c *EnvCredentials) GatewayToken() (string, bool) {
	return c.Secret(SecretGatewayToken)
}

// GatewayBaseURL returns the AI-gateway base URL, if configured.
func (c *EnvCredentials) GatewayBaseURL() (string, bool) {
	return c.Secret(SecretGatewayBaseURL)
}

// Set overrides a secret value (used by tests).
func (c *EnvCredentials) Set(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == "" {
		delete(c.secrets, name)
		return
	}
	c.secrets[name] = value
}
