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

// Package bedrock adapts AWS Bedrock text models for the media router via
// the model-agnostic Converse API. Authentication uses the standard AWS
// credential chain, not provider API keys, so the adapter is constructed
// once with a region instead of resolving keys per request.
package bedrock

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"axonflow/conduit/orchestrator/catalog"
	"axonflow/conduit/orchestrator/media"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

// ConverseClient is the subset of the Bedrock runtime client the adapter
// needs (enables testing).
type ConverseClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Adapter implements the media adapter for AWS Bedrock.
type Adapter struct {
	client ConverseClient
	region string
}

// Option configures the adapter.
type Option func(*Adapter)

// WithClient overrides the Bedrock runtime client (used by tests).
func WithClient(c ConverseClient) Option {
	return func(a *Adapter) {
		if c != nil {
			a.client = c
		}
	}
}

// New creates a Bedrock adapter for a region. When accessKey and secretKey
// are both set they override the default credential chain.
func New(ctx context.Context, region, accessKey, secretKey string, opts ...Option) (*Adapter, error) {
	if region == "" {
		region = DefaultRegion
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	a := &Adapter{region: region}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		a.client = bedrockruntime.NewFromConfig(cfg)
	}
	return a, nil
}

var _ media.Adapter = (*Adapter)(nil)

// ProviderID implements media.Adapter.
func (a *Adapter) ProviderID() string { return "bedrock" }

// SupportedWorkers implements media.Adapter.
func (a *Adapter) SupportedWorkers() []string {
	return []string{catalog.WorkerTextGen}
}

// Execute implements media.Adapter.
func (a *Adapter) Execute(ctx context.Context, req media.AdapterRequest) (*media.MediaResult, error) {
	if req.Worker != catalog.WorkerTextGen {
		return nil, media.ErrWorkerUnsupported(a.ProviderID(), req.Worker)
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
			},
		},
	}
	if req.SystemPrompt != "" {
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}

	inference := &brtypes.InferenceConfiguration{}
	configured := false
	if req.Options.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(int32(req.Options.MaxTokens))
		configured = true
	}
	if req.Options.Temperature > 0 {
		inference.Temperature = aws.Float32(float32(req.Options.Temperature))
		configured = true
	}
	if req.Options.TopP > 0 {
		inference.TopP = aws.Float32(float32(req.Options.TopP))
		configured = true
	}
	if len(req.Options.StopSequences) > 0 {
		inference.StopSequences = req.Options.StopSequences
		configured = true
	}
	if configured {
		input.InferenceConfig = inference
	}

	out, err := a.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock API error: %w", err)
	}

	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("bedrock returned unexpected output type %T", out.Output)
	}

	var text string
	for _, block := range msg.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += t.Value
		}
	}

	result := &media.MediaResult{Text: text}
	if out.Usage != nil {
		result.TokensUsed = int(aws.ToInt32(out.Usage.TotalTokens))
	}
	return result, nil
}

// CheckHealth implements media.Adapter with a one-token probe against a
// small model.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	probe := media.AdapterRequest{
		Worker:  catalog.WorkerTextGen,
		Prompt:  "ping",
		Model:   "anthropic.claude-3-haiku-20240307-v1:0",
		Options: media.MediaOptions{MaxTokens: 1},
	}
	_, err := a.Execute(ctx, probe)
	return err
}
