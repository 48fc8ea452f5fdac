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

// FailureIndicators is the closed vocabulary of phrases whose presence in a
// reportedly successful output downgrades the outcome to failure. Matching is
// case-insensitive substring after quote normalization. Keep this list as the
// single source of truth; do not duplicate subsets in sub-workflows.
var FailureIndicators = []string{
	"couldn't find",
	"could not find",
	"cannot find",
	"can't find",
	"not found",
	"no such file",
	"file not found",
	"does not exist",
	"doesn't exist",
	"unable to",
	"i am unable",
	"i'm unable",
	"i cannot",
	"i can't",
	"nothing to commit",
	"no changes were made",
	"no changes made",
	"requires setup",
	"requires configuration",
	"placeholder",
	"stub",
	"todo:",
	"not implemented",
	"not yet implemented",
	"reference doesn't have a corresponding file",
	"i don't have access",
	"i do not have access",
	"permission denied",
	"access denied",
	"empty response",
	"no output",
}
