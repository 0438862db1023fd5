// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API. System prompts are sent as system content blocks and
// the ReAct transcript as alternating user and assistant text messages.
package bedrock

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/tripcrew/tripcrew/runtime/planner/model"
)

const bedrockProviderName = "bedrock"

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass either
// the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	// Runtime provides access to the Bedrock runtime. Required.
	Runtime RuntimeClient

	// DefaultModel is the model identifier, for example
	// "anthropic.claude-3-5-sonnet-20240620-v1:0".
	DefaultModel string

	// MaxTokens sets the default completion cap when a request does not specify
	// MaxTokens. When zero or negative, the client omits MaxTokens so Bedrock
	// uses its own default.
	MaxTokens int

	// Temperature is used when a request does not specify Temperature.
	Temperature float64
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	maxTok  int
	temp    float64
}

// New initializes a Bedrock-powered model client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		runtime: opts.Runtime,
		model:   opts.DefaultModel,
		maxTok:  opts.MaxTokens,
		temp:    opts.Temperature,
	}, nil
}

// StaticConfig returns an AWS config for region using static credentials.
// Empty keys leave credential resolution to the SDK defaults.
func StaticConfig(region, accessKeyID, secretAccessKey, sessionToken string) aws.Config {
	cfg := aws.Config{Region: region}
	if accessKeyID != "" && secretAccessKey != "" {
		cfg.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     accessKeyID,
				SecretAccessKey: secretAccessKey,
				SessionToken:    sessionToken,
				Source:          "tripcrew",
			}, nil
		}))
	}
	return cfg
}

// NewFromConfig builds a client on a bedrockruntime client created from cfg.
func NewFromConfig(cfg aws.Config, opts Options) (*Client, error) {
	opts.Runtime = bedrockruntime.NewFromConfig(cfg)
	return New(opts)
}

// Complete issues a Converse request and returns the concatenated text blocks
// of the reply.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	input, err := c.buildConverseInput(req)
	if err != nil {
		return model.Response{}, err
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return model.Response{}, wrapBedrockError("converse", err)
	}
	return translateResponse(out)
}

func (c *Client) buildConverseInput(req model.Request) (*bedrockruntime.ConverseInput, error) {
	msgs := encodeMessages(req.Messages)
	if len(msgs) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.model),
		Messages: msgs,
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	if cfg := c.inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input, nil
}

// encodeMessages converts the transcript, merging consecutive messages from
// the same role since Converse requires alternating turns.
func encodeMessages(in []model.Message) []brtypes.Message {
	var out []brtypes.Message
	for _, m := range in {
		if m.Content == "" {
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == model.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		block := &brtypes.ContentBlockMemberText{Value: m.Content}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, block)
			continue
		}
		out = append(out, brtypes.Message{Role: role, Content: []brtypes.ContentBlock{block}})
	}
	return out
}

func (c *Client) inferenceConfig(req model.Request) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := c.maxTok
	if req.MaxTokens > 0 {
		tokens = req.MaxTokens
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens)) //nolint:gosec // AWS SDK requires int32
	}
	temp := c.temp
	if req.Temperature > 0 {
		temp = req.Temperature
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(float32(temp))
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil && cfg.StopSequences == nil {
		return nil
	}
	return &cfg
}

// isRateLimited reports whether err represents a provider rate limiting
// condition. It treats both HTTP 429 responses and provider error codes like
// ThrottlingException as rate-limited signals.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests
}

func wrapBedrockError(operation string, err error) error {
	var (
		status int
		code   string
		msg    string
	)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		msg = apiErr.ErrorMessage()
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	if isRateLimited(err) {
		status = http.StatusTooManyRequests
	}
	return model.NewProviderError(bedrockProviderName, operation, status, code, msg, err)
}

func translateResponse(output *bedrockruntime.ConverseOutput) (model.Response, error) {
	if output == nil {
		return model.Response{}, errors.New("bedrock: response is nil")
	}
	var (
		resp model.Response
		b    strings.Builder
	)
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if v, ok := block.(*brtypes.ContentBlockMemberText); ok {
				b.WriteString(v.Value)
			}
		}
	}
	resp.Text = b.String()
	if usage := output.Usage; usage != nil {
		resp.Usage = model.Usage{
			InputTokens:  int(aws.ToInt32(usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(usage.OutputTokens)),
		}
	}
	resp.StopReason = string(output.StopReason)
	return resp, nil
}
