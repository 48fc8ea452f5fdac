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

import "strings"

// GatewayAuthHeader is the header carrying the gateway bearer token when a
// request is routed through the AI gateway instead of directly to the vendor.
const GatewayAuthHeader = "cf-aig-authorization"

// gatewayProviders is the closed list of providers the gateway can front.
// This is configuration, not runtime discovery: providers outside this list
// (z.ai, local endpoints) always take the direct path.
var gatewayProviders = map[string]bool{
	"anthropic":  true,
	"openai":     true,
	"gemini":     true,
	"ideogram":   true,
	"elevenlabs": true,
	"replicate":  true,
}

// GatewaySupported reports whether a provider can be routed via the gateway.
func GatewaySupported(providerID string) bool {
	return gatewayProviders[providerID]
}

// GatewayBaseURL rewrites a provider's base URL to the gateway form:
// <gatewayBase>/<providerID>. The provider's API shape (path, body,
// response) is unchanged; only the host prefix and the auth header differ.
func GatewayBaseURL(gatewayBase, providerID string) string {
	return strings.TrimRight(gatewayBase, "/") + "/" + providerID
}

// GatewayRoute holds the resolved routing decision for one adapter call.
type GatewayRoute struct {
	// BaseURL is the effective base URL (gateway-rewritten or native).
	BaseURL string

	// Token is the gateway bearer token; empty when routing directly.
	Token string
}

// ResolveGatewayRoute decides between gateway and direct routing for a
// provider. When a gateway token is configured and the provider is
// gateway-supported, the gateway path is preferred even if a provider
// specific key is also present.
func ResolveGatewayRoute(creds *EnvCredentials, providerID, nativeBase string) GatewayRoute {
	token, hasToken := creds.GatewayToken()
	base, hasBase := creds.GatewayBaseURL()
	if hasToken && hasBase && GatewaySupported(providerID) {
		return GatewayRoute{BaseURL: GatewayBaseURL(base, providerID), Token: token}
	}
	return GatewayRoute{BaseURL: nativeBase}
}
