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

// BuiltinWorkflows returns the in-process workflow templates. These are not
// persisted; a stored workflow with the same id shadows the template.
func BuiltinWorkflows() []WorkflowDefinition {
	return []WorkflowDefinition{
		{
			ID:          "social-post",
			Name:        "Social Post",
			Description: "Generate platform copy and a matching image in parallel",
			Steps: []WorkflowStep{
				{
					ID:             "generate-copy",
					Worker:         WorkerTextGen,
					PromptTemplate: "Write a short {{platform}} post about {{topic}}. Keep it under 280 characters and make it engaging.",
					OutputKey:      "post_text",
					InputFrom:      "request",
				},
				{
					ID:             "generate-image",
					Worker:         WorkerImageGen,
					PromptTemplate: "An eye-catching social media illustration about {{topic}}",
					OutputKey:      "post_image",
					InputFrom:      "request",
				},
			},
			// Both steps are independent; the explicit partition keeps them in
			// separate layers for callers that want deterministic ordering.
			ParallelGroups: [][]string{{"generate-copy"}, {"generate-image"}},
		},
		{
			ID:          "blog-with-image",
			Name:        "Blog Post With Featured Image",
			Description: "Write an article, derive an image prompt from it, render the image",
			Steps: []WorkflowStep{
				{
					ID:             "write-article",
					Worker:         WorkerTextGen,
					PromptTemplate: "Write a well-structured blog article about {{topic}}. Use markdown headings.",
					OutputKey:      "article",
					InputFrom:      "request",
				},
				{
					ID:             "create-image-prompt",
					Worker:         WorkerTextGen,
					PromptTemplate: "Given this article, write a single-sentence prompt for an illustration that captures its theme. Article:\n\n{{article}}",
					OutputKey:      "image_prompt",
					InputFrom:      "step:write-article",
				},
				{
					ID:             "generate-featured-image",
					Worker:         WorkerImageGen,
					PromptTemplate: "{{image_prompt}}",
					OutputKey:      "featured_image",
					InputFrom:      "step:create-image-prompt",
				},
			},
		},
		{
			ID:          "narrated-summary",
			Name:        "Narrated Summary",
			Description: "Summarize text and synthesize the summary as speech",
			Steps: []WorkflowStep{
				{
					ID:             "summarize",
					Worker:         WorkerTextGen,
					PromptTemplate: "Summarize the following in 3-5 sentences suitable for narration:\n\n{{text}}",
					OutputKey:      "summary",
					InputFrom:      "request",
					Options:        map[string]any{"task_type": "summarize"},
				},
				{
					ID:             "narrate",
					Worker:         WorkerAudioGen,
					PromptTemplate: "{{summary}}",
					OutputKey:      "narration",
					InputFrom:      "step:summarize",
				},
			},
		},
	}
}
