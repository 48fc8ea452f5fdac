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
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MinUsefulOutputLength is the minimum trimmed output length, in runes, a
// successful task must produce. Shorter successes are downgraded to failure.
const MinUsefulOutputLength = 100

// ErrMsgIncompleteTask is the error reported when the validator downgrades a
// success.
const ErrMsgIncompleteTask = "Response indicates task was not completed"

// quoteNormalizer maps typographic quotes to their ASCII equivalents so the
// indicator vocabulary matches regardless of which quotes the model emitted.
var quoteNormalizer = strings.NewReplacer(
	"‘", "'", // left single
	"’", "'", // right single
	"“", `"`, // left double
	"”", `"`, // right double
)

// ValidateTaskOutput applies the defense-in-depth check to a sub-workflow
// output that reported success. It returns nil when the output passes, or an
// error describing why the success was downgraded.
func ValidateTaskOutput(output string) error {
	if MatchFailureIndicator(output) != "" {
		return errors.New(ErrMsgIncompleteTask)
	}
	trimmed := strings.TrimSpace(output)
	if utf8.RuneCountInString(trimmed) < MinUsefulOutputLength {
		return fmt.Errorf("%s (output too short: %q)", ErrMsgIncompleteTask, trimmed)
	}
	return nil
}

// MatchFailureIndicator returns the first indicator found in the output after
// quote normalization and case folding, or "" when none match.
func MatchFailureIndicator(output string) string {
	normalized := strings.ToLower(quoteNormalizer.Replace(output))
	for _, indicator := range FailureIndicators {
		if strings.Contains(normalized, indicator) {
			return indicator
		}
	}
	return ""
}
