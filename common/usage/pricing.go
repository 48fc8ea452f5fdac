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

// Package usage computes per-request cost estimates and records API usage
// events. Rates live on catalog model rows in cents per 1K tokens; this
// package only does the arithmetic and the bookkeeping.
package usage

import "math"

// EstimateCostCents estimates the cost of a request in cents when only the
// total token count is known. The split is assumed 50/50 input/output:
//
//	round((tokens/2/1000)*(in+out)*100)/100
//
// The result is rounded to hundredths of a cent.
func EstimateCostCents(totalTokens int, inPer1K, outPer1K float64) float64 {
	if totalTokens <= 0 {
		return 0
	}
	halfK := float64(totalTokens) / 2 / 1000
	return math.Round(halfK*(inPer1K+outPer1K)*100) / 100
}

// CostCents computes the exact cost in cents when the prompt/completion split
// is known.
func CostCents(promptTokens, completionTokens int, inPer1K, outPer1K float64) float64 {
	cost := float64(promptTokens)/1000*inPer1K + float64(completionTokens)/1000*outPer1K
	return math.Round(cost*100) / 100
}
