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

package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCostCents(t *testing.T) {
	tests := []struct {
		name     string
		tokens   int
		inPer1K  float64
		outPer1K float64
		want     float64
	}{
		{
			name:     "even split of 2000 tokens",
			tokens:   2000,
			inPer1K:  0.3,
			outPer1K: 1.5,
			want:     1.8, // 1K in at 0.3 + 1K out at 1.5
		},
		{
			name:     "small request rounds to hundredths",
			tokens:   150,
			inPer1K:  0.3,
			outPer1K: 1.5,
			want:     0.14, // 0.075K * 1.8 = 0.135 -> 0.14
		},
		{
			name:     "zero tokens",
			tokens:   0,
			inPer1K:  0.3,
			outPer1K: 1.5,
			want:     0,
		},
		{
			name:     "negative tokens treated as zero",
			tokens:   -5,
			inPer1K:  0.3,
			outPer1K: 1.5,
			want:     0,
		},
		{
			name:     "free model",
			tokens:   100000,
			inPer1K:  0,
			outPer1K: 0,
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateCostCents(tt.tokens, tt.inPer1K, tt.outPer1K)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCostCents(t *testing.T) {
	// 500 prompt at 0.3/1K = 0.15, 1000 completion at 1.5/1K = 1.5
	got := CostCents(500, 1000, 0.3, 1.5)
	assert.InDelta(t, 1.65, got, 1e-9)

	assert.Zero(t, CostCents(0, 0, 0.3, 1.5))
}
