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
	"axonflow/conduit/orchestrator/catalog"
	"axonflow/conduit/orchestrator/media"
)

func intPtr(n int) *int { return &n }

// defaultCatalog seeds the in-memory catalog used when Postgres is not
// configured. Provider priority follows the production ordering; a provider
// whose credential is absent stays in the catalog but is filtered out by the
// registry at selection time. Costs are cents per 1K tokens.
func defaultCatalog(credentials *media.EnvCredentials) *catalog.MemoryStore {
	store := catalog.NewMemoryStore()

	store.AddWorker(catalog.Worker{ID: catalog.WorkerTextGen, Name: "Text Generation", MediaTypes: []string{"text"}, Enabled: true})
	store.AddWorker(catalog.Worker{ID: catalog.WorkerImageGen, Name: "Image Generation", MediaTypes: []string{"image"}, Enabled: true})
	store.AddWorker(catalog.Worker{ID: catalog.WorkerAudioGen, Name: "Audio Generation", MediaTypes: []string{"audio"}, Enabled: true})
	store.AddWorker(catalog.Worker{ID: catalog.WorkerVideoGen, Name: "Video Generation", MediaTypes: []string{"video"}, Enabled: true})

	vllmBase, _ := credentials.Secret(media.SecretVLLMBaseURL)

	providers := []catalog.Provider{
		{ID: "anthropic", Name: "Anthropic", Kind: catalog.ProviderKindAPI, AuthType: catalog.AuthTypeAPIKey, AuthSecretName: media.SecretAnthropicAPIKey, Priority: 1, Enabled: true},
		{ID: "gemini", Name: "Google Gemini", Kind: catalog.ProviderKindAPI, AuthType: catalog.AuthTypeAPIKey, AuthSecretName: media.SecretGoogleAPIKey, Priority: 2, Enabled: true},
		{ID: "zai", Name: "Z.ai", Kind: catalog.ProviderKindAPI, AuthType: catalog.AuthTypeBearer, AuthSecretName: media.SecretZaiAPIKey, Priority: 3, Enabled: true},
		{ID: "openai", Name: "OpenAI", Kind: catalog.ProviderKindAPI, AuthType: catalog.AuthTypeBearer, AuthSecretName: media.SecretOpenAIAPIKey, Priority: 4, Enabled: true},
		{ID: "bedrock", Name: "AWS Bedrock", Kind: catalog.ProviderKindAPI, AuthType: catalog.AuthTypeAPIKey, AuthSecretName: media.SecretBedrockRegion, Priority: 5, Enabled: true},
		{ID: "vllm", Name: "Local vLLM", Kind: catalog.ProviderKindLocal, BaseEndpoint: vllmBase, AuthType: catalog.AuthTypeNone, Priority: 6, Enabled: true},
		{ID: "ideogram", Name: "Ideogram", Kind: catalog.ProviderKindAPI, AuthType: catalog.AuthTypeAPIKey, AuthSecretName: media.SecretIdeogramAPIKey, Priority: 1, Enabled: true},
		{ID: "replicate", Name: "Replicate", Kind: catalog.ProviderKindAPI, AuthType: catalog.AuthTypeBearer, AuthSecretName: media.SecretReplicateToken, Priority: 2, Enabled: true},
		{ID: "elevenlabs", Name: "ElevenLabs", Kind: catalog.ProviderKindAPI, AuthType: catalog.AuthTypeAPIKey, AuthSecretName: media.SecretElevenLabsAPIKey, Priority: 1, Enabled: true},
	}
	for _, p := range providers {
		store.AddProvider(p)
	}

	textProviders := []string{"anthropic", "gemini", "zai", "openai", "bedrock", "vllm"}
	for _, id := range textProviders {
		store.MapProviderToWorker(catalog.WorkerTextGen, id, nil)
	}
	store.MapProviderToWorker(catalog.WorkerImageGen, "ideogram", nil)
	store.MapProviderToWorker(catalog.WorkerImageGen, "replicate", nil)
	// OpenAI serves images behind the dedicated image vendors.
	store.MapProviderToWorker(catalog.WorkerImageGen, "openai", intPtr(3))
	store.MapProviderToWorker(catalog.WorkerAudioGen, "elevenlabs", nil)
	store.MapProviderToWorker(catalog.WorkerAudioGen, "openai", intPtr(2))
	store.MapProviderToWorker(catalog.WorkerVideoGen, "replicate", nil)

	models := []catalog.Model{
		{ID: "anthropic-sonnet-4", ProviderID: "anthropic", ModelID: "claude-sonnet-4-20250514", WorkerID: catalog.WorkerTextGen,
			Capabilities: []string{"reasoning", "code", "analysis"}, ContextWindow: 200000,
			CostInputPer1K: 0.3, CostOutputPer1K: 1.5, QualityTier: catalog.QualityPremium, SpeedTier: catalog.SpeedMedium, Priority: 1, Enabled: true},
		{ID: "anthropic-haiku-3-5", ProviderID: "anthropic", ModelID: "claude-3-5-haiku-20241022", WorkerID: catalog.WorkerTextGen,
			Capabilities: []string{"summarize", "classify"}, ContextWindow: 200000,
			CostInputPer1K: 0.08, CostOutputPer1K: 0.4, QualityTier: catalog.QualityStandard, SpeedTier: catalog.SpeedFast, Priority: 2, Enabled: true},
		{ID: "gemini-2-5-pro", ProviderID: "gemini", ModelID: "gemini-2.5-pro", WorkerID: catalog.WorkerTextGen,
			Capabilities: []string{"reasoning", "code", "analysis"}, ContextWindow: 1000000,
			CostInputPer1K: 0.125, CostOutputPer1K: 1.0, QualityTier: catalog.QualityPremium, SpeedTier: catalog.SpeedMedium, Priority: 1, Enabled: true},
		{ID: "gemini-2-5-flash", ProviderID: "gemini", ModelID: "gemini-2.5-flash", WorkerID: catalog.WorkerTextGen,
			Capabilities: []string{"summarize", "classify"}, ContextWindow: 1000000,
			CostInputPer1K: 0.03, CostOutputPer1K: 0.25, QualityTier: catalog.QualityStandard, SpeedTier: catalog.SpeedFast, Priority: 2, Enabled: true},
		{ID: "zai-glm-4-5-air", ProviderID: "zai", ModelID: "glm-4.5-air", WorkerID: catalog.WorkerTextGen,
			Capabilities: []string{"code", "summarize"}, ContextWindow: 128000,
			CostInputPer1K: 0.02, CostOutputPer1K: 0.11, QualityTier: catalog.QualityStandard, SpeedTier: catalog.SpeedFast, Priority: 1, Enabled: true},
		{ID: "openai-gpt-4o", ProviderID: "openai", ModelID: "gpt-4o", WorkerID: catalog.WorkerTextGen,
			Capabilities: []string{"reasoning", "analysis"}, ContextWindow: 128000,
			CostInputPer1K: 0.25, CostOutputPer1K: 1.0, QualityTier: catalog.QualityPremium, SpeedTier: catalog.SpeedMedium, Priority: 1, Enabled: true},
		{ID: "bedrock-sonnet-4", ProviderID: "bedrock", ModelID: "anthropic.claude-sonnet-4-20250514-v1:0", WorkerID: catalog.WorkerTextGen,
			Capabilities: []string{"reasoning", "code"}, ContextWindow: 200000,
			CostInputPer1K: 0.3, CostOutputPer1K: 1.5, QualityTier: catalog.QualityPremium, SpeedTier: catalog.SpeedMedium, Priority: 1, Enabled: true},
		{ID: "vllm-qwen-coder", ProviderID: "vllm", ModelID: "qwen2.5-coder-32b", WorkerID: catalog.WorkerTextGen,
			Capabilities: []string{"code"}, ContextWindow: 32768,
			QualityTier: catalog.QualityDraft, SpeedTier: catalog.SpeedFast, Priority: 1, Enabled: true},

		{ID: "ideogram-v2", ProviderID: "ideogram", ModelID: "V_2", WorkerID: catalog.WorkerImageGen,
			Capabilities: []string{"illustration", "typography"},
			CostInputPer1K: 0, CostOutputPer1K: 8, QualityTier: catalog.QualityPremium, SpeedTier: catalog.SpeedMedium, Priority: 1, Enabled: true},
		{ID: "replicate-flux", ProviderID: "replicate", ModelID: "black-forest-labs/flux-1.1-pro", WorkerID: catalog.WorkerImageGen,
			Capabilities: []string{"illustration", "photorealistic"},
			CostOutputPer1K: 4, QualityTier: catalog.QualityPremium, SpeedTier: catalog.SpeedSlow, Priority: 1, Enabled: true},
		{ID: "openai-dalle-3", ProviderID: "openai", ModelID: "dall-e-3", WorkerID: catalog.WorkerImageGen,
			Capabilities: []string{"illustration"},
			CostOutputPer1K: 4, QualityTier: catalog.QualityStandard, SpeedTier: catalog.SpeedMedium, Priority: 1, Enabled: true},

		{ID: "elevenlabs-multilingual-v2", ProviderID: "elevenlabs", ModelID: "eleven_multilingual_v2", WorkerID: catalog.WorkerAudioGen,
			Capabilities: []string{"tts", "multilingual"},
			CostOutputPer1K: 3, QualityTier: catalog.QualityPremium, SpeedTier: catalog.SpeedMedium, Priority: 1, Enabled: true},
		{ID: "openai-tts-1", ProviderID: "openai", ModelID: "tts-1", WorkerID: catalog.WorkerAudioGen,
			Capabilities: []string{"tts"},
			CostOutputPer1K: 1.5, QualityTier: catalog.QualityStandard, SpeedTier: catalog.SpeedFast, Priority: 1, Enabled: true},

		{ID: "replicate-video-01", ProviderID: "replicate", ModelID: "minimax/video-01", WorkerID: catalog.WorkerVideoGen,
			Capabilities: []string{"text-to-video"},
			CostOutputPer1K: 50, QualityTier: catalog.QualityStandard, SpeedTier: catalog.SpeedSlow, Priority: 1, Enabled: true},
	}
	for _, m := range models {
		store.AddModel(m)
	}

	return store
}
