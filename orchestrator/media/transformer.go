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
	"regexp"
	"strings"

	"axonflow/conduit/orchestrator/catalog"
)

// TransformInput carries everything a transformer may condition on.
type TransformInput struct {
	Worker       string
	Provider     string
	Model        string
	TaskType     string
	Capabilities []string
	Prompt       string

	// SystemPrompt is the caller-supplied system prompt, if any. Transformers
	// inject a system prompt only when this is empty.
	SystemPrompt string
}

// TransformResult is the rewritten prompt pair.
type TransformResult struct {
	Prompt       string
	SystemPrompt string
}

// PromptTransformer rewrites the prompt and/or supplies a system prompt for
// one provider. Transform must be idempotent: applying it to its own output
// returns the output unchanged.
type PromptTransformer interface {
	ProviderID() string
	Transform(in TransformInput) TransformResult
}

// TransformerRegistry maps provider ids to transformers. Providers without a
// registered transformer pass prompts through untouched.
type TransformerRegistry struct {
	transformers map[string]PromptTransformer
}

// NewTransformerRegistry creates a registry with the default per-provider
// transformers installed.
func NewTransformerRegistry() *TransformerRegistry {
	r := &TransformerRegistry{transformers: make(map[string]PromptTransformer)}
	r.Register(&ReasoningTransformer{Provider: "anthropic"})
	r.Register(&ImageQualityTransformer{Provider: "ideogram"})
	r.Register(&ImageQualityTransformer{Provider: "replicate"})
	r.Register(&SpeechTransformer{Provider: "elevenlabs"})
	return r
}

// Register installs a transformer, replacing any previous one for the same
// provider.
func (r *TransformerRegistry) Register(t PromptTransformer) {
	r.transformers[t.ProviderID()] = t
}

// Apply runs the provider's transformer, if any.
func (r *TransformerRegistry) Apply(in TransformInput) TransformResult {
	if t, ok := r.transformers[in.Provider]; ok {
		return t.Transform(in)
	}
	return TransformResult{Prompt: in.Prompt, SystemPrompt: in.SystemPrompt}
}

// taskOpen/taskClose delimit the reasoning scaffold.
const (
	taskOpen  = "<task>"
	taskClose = "</task>"

	chainOfThought = "Think through the problem step by step inside <thinking> tags before giving your final answer."
)

// ReasoningTransformer wraps text prompts in a task scaffold and appends an
// explicit chain-of-thought instruction when the caller asked for reasoning
// or analysis capability.
type ReasoningTransformer struct {
	Provider string
}

// ProviderID implements PromptTransformer.
func (t *ReasoningTransformer) ProviderID() string { return t.Provider }

// Transform implements PromptTransformer.
func (t *ReasoningTransformer) Transform(in TransformInput) TransformResult {
	out := TransformResult{Prompt: in.Prompt, SystemPrompt: in.SystemPrompt}
	if in.Worker != catalog.WorkerTextGen {
		return out
	}
	if !wantsReasoning(in.Capabilities) {
		return out
	}
	if strings.Contains(in.Prompt, taskOpen) {
		// Already scaffolded.
		return out
	}
	out.Prompt = taskOpen + "\n" + strings.TrimSpace(in.Prompt) + "\n" + taskClose + "\n\n" + chainOfThought
	if out.SystemPrompt == "" {
		out.SystemPrompt = "You are a careful analyst. Reason explicitly and show your work before concluding."
	}
	return out
}

func wantsReasoning(capabilities []string) bool {
	for _, c := range capabilities {
		if c == "reasoning" || c == "analysis" {
			return true
		}
	}
	return false
}

// imageBoosters are appended to image prompts when absent. Matching is
// case-insensitive so the rewrite stays idempotent.
var imageBoosters = []string{
	"high quality, detailed",
	"professional lighting",
}

// ImageQualityTransformer appends quality boosters to image prompts that do
// not already carry them.
type ImageQualityTransformer struct {
	Provider string
}

// ProviderID implements PromptTransformer.
func (t *ImageQualityTransformer) ProviderID() string { return t.Provider }

// Transform implements PromptTransformer.
func (t *ImageQualityTransformer) Transform(in TransformInput) TransformResult {
	out := TransformResult{Prompt: in.Prompt, SystemPrompt: in.SystemPrompt}
	if in.Worker != catalog.WorkerImageGen {
		return out
	}
	lower := strings.ToLower(in.Prompt)
	for _, booster := range imageBoosters {
		if !strings.Contains(lower, booster) {
			out.Prompt = strings.TrimRight(out.Prompt, " \t\n,.") + ", " + booster
		}
	}
	return out
}

var (
	fencedCodeRe   = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\n?.*?```")
	inlineCodeRe   = regexp.MustCompile("`([^`]*)`")
	markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	headingRe      = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	emphasisRe     = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+)(\*{1,3}|_{1,3})`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

// StripMarkdown removes markdown formatting that text-to-speech engines would
// otherwise read aloud. Code fences are dropped entirely; inline code and
// links keep their text.
func StripMarkdown(text string) string {
	text = fencedCodeRe.ReplaceAllString(text, "")
	text = inlineCodeRe.ReplaceAllString(text, "$1")
	text = markdownLinkRe.ReplaceAllString(text, "$1")
	text = headingRe.ReplaceAllString(text, "")
	text = emphasisRe.ReplaceAllString(text, "$2")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// SpeechTransformer sanitizes prompts for text-to-speech providers.
type SpeechTransformer struct {
	Provider string
}

// ProviderID implements PromptTransformer.
func (t *SpeechTransformer) ProviderID() string { return t.Provider }

// Transform implements PromptTransformer.
func (t *SpeechTransformer) Transform(in TransformInput) TransformResult {
	out := TransformResult{Prompt: in.Prompt, SystemPrompt: in.SystemPrompt}
	if in.Worker != catalog.WorkerAudioGen {
		return out
	}
	out.Prompt = StripMarkdown(in.Prompt)
	return out
}
