package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/tripcrew/tripcrew/runtime/planner/model"
)

type mockRuntime struct {
	input  *bedrockruntime.ConverseInput
	output *bedrockruntime.ConverseOutput
}

func (m *mockRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.input = params
	return m.output, nil
}

func TestClientComplete(t *testing.T) {
	rt := &mockRuntime{output: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "Thought: ok\n"},
				&brtypes.ContentBlockMemberText{Value: "Final Answer: done"},
			},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(12), OutputTokens: aws.Int32(4), TotalTokens: aws.Int32(16)},
	}}
	client, err := New(Options{Runtime: rt, DefaultModel: "claude", MaxTokens: 512, Temperature: 0.1})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), model.Request{
		System: "plan trips",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "task"},
			{Role: model.RoleUser, Content: "more"},
			{Role: model.RoleAssistant, Content: "Thought: x"},
			{Role: model.RoleUser, Content: "Observation: y"},
		},
		Stop: []string{"\nObservation:"},
	})
	require.NoError(t, err)
	require.Equal(t, "Thought: ok\nFinal Answer: done", resp.Text)
	require.Equal(t, string(brtypes.StopReasonEndTurn), resp.StopReason)
	require.Equal(t, model.Usage{InputTokens: 12, OutputTokens: 4}, resp.Usage)

	in := rt.input
	require.Equal(t, "claude", aws.ToString(in.ModelId))
	require.Len(t, in.Messages, 3)
	require.Len(t, in.Messages[0].Content, 2)
	require.Equal(t, brtypes.ConversationRoleAssistant, in.Messages[1].Role)
	require.Len(t, in.System, 1)
	require.Equal(t, int32(512), aws.ToInt32(in.InferenceConfig.MaxTokens))
	require.Equal(t, []string{"\nObservation:"}, in.InferenceConfig.StopSequences)
}

func TestClientValidation(t *testing.T) {
	_, err := New(Options{DefaultModel: "x"})
	require.Error(t, err)
	_, err = New(Options{Runtime: &mockRuntime{}})
	require.Error(t, err)

	client, err := New(Options{Runtime: &mockRuntime{}, DefaultModel: "x"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser}}})
	require.Error(t, err)
}

func TestStaticConfig(t *testing.T) {
	cfg := StaticConfig("us-east-1", "AKID", "SECRET", "")
	require.Equal(t, "us-east-1", cfg.Region)
	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AKID", creds.AccessKeyID)

	require.Nil(t, StaticConfig("us-east-1", "", "", "").Credentials)
}
