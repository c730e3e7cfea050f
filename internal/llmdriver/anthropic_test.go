package llmdriver

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type fakeMessagesClient struct {
	resp *sdk.Message
	err  error
	got  sdk.MessageNewParams
}

func (f *fakeMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	f.got = body
	return f.resp, f.err
}

func TestBuildParamsRejectsMissingModel(t *testing.T) {
	_, err := buildParams(Request{MaxTokens: 100})
	if err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestBuildParamsRejectsNonPositiveMaxTokens(t *testing.T) {
	_, err := buildParams(Request{Model: "claude-x"})
	if err == nil {
		t.Fatal("expected error for non-positive max tokens")
	}
}

func TestEncodeMessagesTextBlock(t *testing.T) {
	msgs := []Message{{Role: "user", Content: []ContentBlock{{Type: "text", Text: "hi"}}}}
	out, err := encodeMessages(msgs)
	if err != nil {
		t.Fatalf("encodeMessages() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
}

func TestEncodeMessagesRejectsUnknownRole(t *testing.T) {
	msgs := []Message{{Role: "system", Content: []ContentBlock{{Type: "text", Text: "x"}}}}
	if _, err := encodeMessages(msgs); err == nil {
		t.Fatal("expected error for unsupported role")
	}
}

func TestCompleteTranslatesResponse(t *testing.T) {
	fake := &fakeMessagesClient{
		resp: &sdk.Message{
			StopReason: sdk.StopReasonEndTurn,
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello"},
			},
			Usage: sdk.Usage{InputTokens: 5, OutputTokens: 7},
		},
	}
	p := NewAnthropicProvider(fake)

	resp, err := p.Complete(context.Background(), Request{
		Model:     "claude-x",
		MaxTokens: 100,
		Messages:  []Message{{Role: "user", Content: []ContentBlock{{Type: "text", Text: "hi"}}}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.StopReason != string(sdk.StopReasonEndTurn) {
		t.Fatalf("StopReason = %q", resp.StopReason)
	}
	if resp.InputTokens != 5 || resp.OutputTokens != 7 {
		t.Fatalf("tokens = %d/%d, want 5/7", resp.InputTokens, resp.OutputTokens)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "hello" {
		t.Fatalf("Content = %#v", resp.Content)
	}
}
