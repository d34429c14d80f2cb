// Package derive turns agreement text into a compliance form definition by
// asking a language model which reporting obligations the agreement imposes.
package derive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"complyline/internal/schema"
)

const systemPrompt = `You are a professional and meticulous compliance officer creating a
standardized reporting template for a new organizational partnership. Analyze the provided
agreement text with these objectives:

1. Identify key compliance requirements and reporting obligations
2. Extract stakeholder information without relying on specific organization names
3. Determine critical verification points that ensure partnership integrity
4. Generate form fields that capture essential compliance data

Your form fields should:
- Be generic enough to work across different organizational contexts
- Focus on universal compliance principles and use clear, professional language
- Provide guidance through placeholders and descriptions
- Indicate which fields require proof documentation and what kind of proof
- Include reminders about donation clauses and inquire about progress toward commitments
- Mention jurisdiction-based compliance requirements the document may not have covered

Reply with a single JSON object with these keys:
"fields": an array of form fields. Each field has "name" (lowercase letters, digits and
underscores only), "label", "type" (one of text_field, textarea, number_field, date_field,
checkbox, single_select, multi_select), optional "description" and "placeholder" help text,
optional "required", optional "proof_required" with a "proof_description" when the donor
will expect a supporting document, and an optional constraint object matching the type:
"text" (min_length, max_length, pattern), "number" (min, max, integer_only),
"date" (min, max as YYYY-MM-DD, future_only, past_only), "checkbox" (default),
"select" (options, min_selections, max_selections, default_value, default_values).
"summary": one paragraph describing the entire agreement.
"total_funding_till_date_in_cents": the total committed funding to date as an integer
number of cents, 0 if the text does not state an amount.`

// Result is a derived questionnaire plus the agreement facts read alongside it.
type Result struct {
	Fields       []schema.Field
	Summary      string
	FundingCents int64
}

type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Deriver asks the model for a form definition.
type Deriver struct {
	api   completionAPI
	model string
}

func New(apiKey, model string) *Deriver {
	return &Deriver{api: openai.NewClient(apiKey), model: model}
}

type rawResult struct {
	Fields       json.RawMessage `json:"fields"`
	Summary      string          `json:"summary"`
	FundingCents int64           `json:"total_funding_till_date_in_cents"`
}

// Derive produces a validated form definition from agreement text.
func (d *Deriver) Derive(ctx context.Context, agreementText string) (*Result, error) {
	if strings.TrimSpace(agreementText) == "" {
		return nil, fmt.Errorf("derive: agreement text is empty")
	}
	resp, err := d.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: agreementText},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("derive: completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("derive: completion returned no choices")
	}
	var raw rawResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &raw); err != nil {
		return nil, fmt.Errorf("derive: completion is not valid JSON: %w", err)
	}
	if len(raw.Fields) == 0 {
		return nil, fmt.Errorf("derive: completion has no fields")
	}
	fields, err := schema.ParseFields(raw.Fields)
	if err != nil {
		return nil, fmt.Errorf("derive: %w", err)
	}
	if raw.FundingCents < 0 {
		raw.FundingCents = 0
	}
	return &Result{Fields: fields, Summary: raw.Summary, FundingCents: raw.FundingCents}, nil
}
