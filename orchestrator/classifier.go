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
	"regexp"
	"strings"
)

// TaskType is the kind of work a prime execution performs. It selects the
// sub-workflow.
type TaskType string

const (
	TaskTypeCode             TaskType = "code"
	TaskTypeText             TaskType = "text"
	TaskTypeVideo            TaskType = "video"
	TaskTypeImage            TaskType = "image"
	TaskTypeAudio            TaskType = "audio"
	TaskTypeShippingResearch TaskType = "shipping-research"
)

// titleTagTaskTypes maps bracketed title tags to task types.
var titleTagTaskTypes = map[string]TaskType{
	"implement": TaskTypeCode, "bugfix": TaskTypeCode, "cc": TaskTypeCode,
	"code": TaskTypeCode, "fix": TaskTypeCode, "refactor": TaskTypeCode,
	"debug": TaskTypeCode,

	"research": TaskTypeText, "analyze": TaskTypeText, "write": TaskTypeText,
	"summarize": TaskTypeText, "explain": TaskTypeText,

	"video": TaskTypeVideo, "render": TaskTypeVideo, "animate": TaskTypeVideo,

	"image": TaskTypeImage, "picture": TaskTypeImage,
	"illustration": TaskTypeImage, "generate-image": TaskTypeImage,

	"audio": TaskTypeAudio, "speech": TaskTypeAudio, "tts": TaskTypeAudio,
	"voice": TaskTypeAudio, "synthesize": TaskTypeAudio,
}

// hintWorkflowTaskTypes maps the hints.workflow values to task types.
var hintWorkflowTaskTypes = map[string]TaskType{
	"code-execution":   TaskTypeCode,
	"text-generation":  TaskTypeText,
	"video-render":     TaskTypeVideo,
	"image-generation": TaskTypeImage,
	"audio-generation": TaskTypeAudio,
}

var (
	titleTagRe = regexp.MustCompile(`\[([a-zA-Z-]+)\]`)

	// codeContentRe scans title+description for code verbs.
	codeContentRe = regexp.MustCompile(`(?i)\b(implement|debug|refactor|bugfix|compile|unit test|pull request|stack trace)\b|\b(write|fix|update|patch)\b.{0,40}\b(code|function|script|test|bug|module)\b`)
)

// ClassifyTaskType decides the sub-workflow for a prime execution. Context
// signals are authoritative; hints are a last-resort tiebreaker.
func ClassifyTaskType(params *PrimeWorkflowParams) (TaskType, string) {
	if params.Context.Repo != "" {
		return TaskTypeCode, "context.repo"
	}
	if params.Context.Timeline != nil {
		return TaskTypeVideo, "context.timeline"
	}
	if params.Context.Product != nil {
		return TaskTypeShippingResearch, "context.product"
	}

	for _, match := range titleTagRe.FindAllStringSubmatch(params.Title, -1) {
		tag := strings.ToLower(match[1])
		if tt, ok := titleTagTaskTypes[tag]; ok {
			return tt, "title tag [" + tag + "]"
		}
	}

	if codeContentRe.MatchString(params.Title + " " + params.Description) {
		return TaskTypeCode, "content keywords"
	}

	if tt, ok := hintWorkflowTaskTypes[strings.ToLower(params.Hints.Workflow)]; ok {
		return tt, "hints.workflow"
	}

	return TaskTypeText, "default"
}
