package derive

import (
	"context"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
)

type stubAPI struct {
	content string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (s *stubAPI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: s.content}}},
	}, nil
}

func TestDerive(t *testing.T) {
	stub := &stubAPI{content: `{
		"fields": [
			{"name":"beneficiaries","label":"Beneficiaries served","type":"number_field","required":true,"number":{"min":0,"integer_only":true}},
			{"name":"utilization_report","label":"Utilization report","type":"textarea","required":true,"proof_required":true}
		],
		"summary": "Annual grant for rural education programs.",
		"total_funding_till_date_in_cents": 5000000
	}`}
	d := &Deriver{api: stub, model: "gpt-4o"}

	res, err := d.Derive(context.Background(), "GRANT AGREEMENT between Donor and NGO ...")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if len(res.Fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(res.Fields))
	}
	if !res.Fields[1].ProofRequired {
		t.Fatal("proof_required not decoded")
	}
	if res.FundingCents != 5000000 {
		t.Fatalf("got funding %d", res.FundingCents)
	}
	if res.Summary == "" {
		t.Fatal("summary empty")
	}
	if stub.lastReq.ResponseFormat == nil || stub.lastReq.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Fatal("json response format not requested")
	}
	if len(stub.lastReq.Messages) != 2 || stub.lastReq.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("unexpected messages: %+v", stub.lastReq.Messages)
	}
}

func TestDeriveRejectsBadDefinition(t *testing.T) {
	stub := &stubAPI{content: `{"fields":[{"name":"has space","label":"x","type":"text_field"}],"summary":"s"}`}
	d := &Deriver{api: stub, model: "gpt-4o"}
	_, err := d.Derive(context.Background(), "some agreement")
	if err == nil || !strings.Contains(err.Error(), "has space") {
		t.Fatalf("got %v, want invalid field name error", err)
	}
}

func TestDeriveRejectsNonJSON(t *testing.T) {
	stub := &stubAPI{content: "I cannot help with that."}
	d := &Deriver{api: stub, model: "gpt-4o"}
	if _, err := d.Derive(context.Background(), "some agreement"); err == nil {
		t.Fatal("expected error for non-JSON completion")
	}
}

func TestDeriveRejectsEmptyText(t *testing.T) {
	d := &Deriver{api: &stubAPI{}, model: "gpt-4o"}
	if _, err := d.Derive(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty agreement text")
	}
}

func TestDeriveNegativeFundingClamped(t *testing.T) {
	stub := &stubAPI{content: `{"fields":[{"name":"summary","label":"Summary","type":"textarea"}],"summary":"s","total_funding_till_date_in_cents":-100}`}
	d := &Deriver{api: stub, model: "gpt-4o"}
	res, err := d.Derive(context.Background(), "agreement")
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if res.FundingCents != 0 {
		t.Fatalf("got %d, want 0", res.FundingCents)
	}
}
