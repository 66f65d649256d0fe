package extractor

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// MockGenerator is a mock implementation of ContentGenerator for testing.
type MockGenerator struct {
	GenerateContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	calls               int
}

func (m *MockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.calls++
	if m.GenerateContentFunc != nil {
		return m.GenerateContentFunc(ctx, model, contents, config)
	}
	return nil, errors.New("not implemented")
}

func testTaxonomy() domain.Taxonomy {
	return domain.Taxonomy{
		{Name: "Food", Description: "Restaurants and groceries"},
		{Name: "Transit", Description: "Trains, buses, taxis"},
	}
}

func testPages() []domain.RasterPage {
	return []domain.RasterPage{
		{Index: 0, Image: base64.StdEncoding.EncodeToString([]byte("page-one"))},
		{Index: 1, Image: base64.StdEncoding.EncodeToString([]byte("page-two"))},
	}
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

const validResponse = `{
  "bankName": "Acme Bank",
  "cardType": "Visa Gold",
  "statementDate": "2024-03",
  "items": [
    {"date": "2024-03-02", "description": "Cafe", "amount": 100.10, "category": {"name": "Food", "description": "Restaurants and groceries"}},
    {"date": "2024-03-05", "description": "Metro", "amount": 50}
  ]
}`

func TestBuildResponseSchema(t *testing.T) {
	schema := BuildResponseSchema(testTaxonomy())

	if diff := cmp.Diff([]string{"bankName", "cardType", "statementDate", "items"}, schema.Required); diff != "" {
		t.Errorf("top-level required mismatch (-want +got):\n%s", diff)
	}

	item := schema.Properties["items"].Items
	if item == nil {
		t.Fatal("items schema has no element schema")
	}
	for _, r := range item.Required {
		if r == "category" {
			t.Error("category must be optional so unclassified transactions can be reported")
		}
	}
	if item.Properties["amount"].Type != genai.TypeNumber {
		t.Errorf("amount type = %v, want %v", item.Properties["amount"].Type, genai.TypeNumber)
	}

	enum := item.Properties["category"].Properties["name"].Enum
	if diff := cmp.Diff([]string{"Food", "Transit"}, enum); diff != "" {
		t.Errorf("category enum mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildResponseSchema_PerTaxonomy(t *testing.T) {
	a := BuildResponseSchema(domain.Taxonomy{{Name: "A"}})
	b := BuildResponseSchema(domain.Taxonomy{{Name: "B"}, {Name: "C"}})

	enumA := a.Properties["items"].Items.Properties["category"].Properties["name"].Enum
	enumB := b.Properties["items"].Items.Properties["category"].Properties["name"].Enum
	if diff := cmp.Diff([]string{"A"}, enumA); diff != "" {
		t.Errorf("enum A mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"B", "C"}, enumB); diff != "" {
		t.Errorf("enum B mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSystemInstruction(t *testing.T) {
	got := buildSystemInstruction("You are a careful accountant.", testTaxonomy())

	if !strings.HasPrefix(got, "You are a careful accountant.") {
		t.Errorf("instructions should be passed through verbatim first, got:\n%s", got)
	}
	for _, want := range []string{
		"- Food: Restaurants and groceries",
		"- Transit: Trains, buses, taxis",
		"omit its category",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("system instruction missing %q:\n%s", want, got)
		}
	}
}

func TestBuildSystemInstruction_NoInstructions(t *testing.T) {
	got := buildSystemInstruction("   ", testTaxonomy())
	if !strings.HasPrefix(got, "Use ONLY the following categories") {
		t.Errorf("expected guide only, got:\n%s", got)
	}
}

func TestDecodeRawStatement(t *testing.T) {
	got, err := decodeRawStatement("```json\n" + validResponse + "\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &domain.RawStatement{
		BankName:      "Acme Bank",
		CardType:      "Visa Gold",
		StatementDate: "2024-03",
		Transactions: []domain.RawTransaction{
			{
				Date:        civil.Date{Year: 2024, Month: 3, Day: 2},
				Description: "Cafe",
				Amount:      decimal.RequireFromString("100.10"),
				Category:    &domain.RawCategory{Name: "Food", Description: "Restaurants and groceries"},
			},
			{
				Date:        civil.Date{Year: 2024, Month: 3, Day: 5},
				Description: "Metro",
				Amount:      decimal.NewFromInt(50),
			},
		},
	}

	opt := cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })
	if diff := cmp.Diff(want, got, opt); diff != "" {
		t.Errorf("decoded statement mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRawStatement_Lenient(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantDate string
		wantCat  *domain.RawCategory
	}{
		{
			name:     "full statement date reduced to month",
			input:    `{"bankName":"","cardType":"","statementDate":"2024-03-31","items":[{"date":"2024-03-01","description":"x","amount":1}]}`,
			wantDate: "2024-03",
		},
		{
			name:     "category as bare string",
			input:    `{"bankName":"","cardType":"","statementDate":"2024-03","items":[{"date":"2024-03-01","description":"x","amount":1,"category":"Food"}]}`,
			wantDate: "2024-03",
			wantCat:  &domain.RawCategory{Name: "Food"},
		},
		{
			name:     "null category",
			input:    `{"bankName":"","cardType":"","statementDate":"2024-03","items":[{"date":"2024-03-01","description":"x","amount":1,"category":null}]}`,
			wantDate: "2024-03",
		},
		{
			name:     "blank category name",
			input:    `{"bankName":"","cardType":"","statementDate":"2024-03","items":[{"date":"2024-03-01","description":"x","amount":1,"category":{"name":" ","description":""}}]}`,
			wantDate: "2024-03",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeRawStatement(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.StatementDate != tt.wantDate {
				t.Errorf("StatementDate = %q, want %q", got.StatementDate, tt.wantDate)
			}
			if diff := cmp.Diff(tt.wantCat, got.Transactions[0].Category); diff != "" {
				t.Errorf("category mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeRawStatement_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "I could not read the statement"},
		{"missing items", `{"statementDate":"2024-03"}`},
		{"items not array", `{"statementDate":"2024-03","items":{}}`},
		{"missing statement date", `{"items":[]}`},
		{"bad statement date", `{"statementDate":"March 2024","items":[]}`},
		{"bad transaction date", `{"statementDate":"2024-03","items":[{"date":"03/01/2024","description":"x","amount":1}]}`},
		{"amount as string", `{"statementDate":"2024-03","items":[{"date":"2024-03-01","description":"x","amount":"1.00"}]}`},
		{"missing amount", `{"statementDate":"2024-03","items":[{"date":"2024-03-01","description":"x"}]}`},
		{"missing description", `{"statementDate":"2024-03","items":[{"date":"2024-03-01","amount":1}]}`},
		{"category wrong type", `{"statementDate":"2024-03","items":[{"date":"2024-03-01","description":"x","amount":1,"category":7}]}`},
		{"missing bank name", `{"cardType":"Visa","statementDate":"2024-01","items":[{"date":"2024-01-05","description":"x","amount":1}]}`},
		{"missing card type", `{"bankName":"Acme","statementDate":"2024-01","items":[{"date":"2024-01-05","description":"x","amount":1}]}`},
		{"null bank name", `{"bankName":null,"cardType":"","statementDate":"2024-01","items":[]}`},
		{"category without description", `{"bankName":"","cardType":"","statementDate":"2024-01","items":[{"date":"2024-01-05","description":"x","amount":1,"category":{"name":"Food"}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeRawStatement(tt.input)
			if !errors.Is(err, domain.ErrMalformedExtraction) {
				t.Fatalf("expected ErrMalformedExtraction, got %v", err)
			}
			var me *domain.MalformedExtractionError
			if !errors.As(err, &me) {
				t.Fatalf("expected *MalformedExtractionError, got %T", err)
			}
			if me.Raw != tt.input {
				t.Errorf("Raw = %q, want original response text", me.Raw)
			}
		})
	}
}

func TestExtract_Success(t *testing.T) {
	var gotModel string
	var gotContents []*genai.Content
	var gotConfig *genai.GenerateContentConfig

	gen := &MockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotModel, gotContents, gotConfig = model, contents, config
			return textResponse(validResponse), nil
		},
	}

	e := NewGeminiExtractorWithGenerator(gen, WithModel("test-model"))
	stmt, err := e.Extract(context.Background(), testPages(), testTaxonomy(), "Extract everything.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stmt.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(stmt.Transactions))
	}

	if gotModel != "test-model" {
		t.Errorf("model = %q, want %q", gotModel, "test-model")
	}
	if len(gotContents) != 1 {
		t.Fatalf("expected a single user message, got %d", len(gotContents))
	}
	parts := gotContents[0].Parts
	if len(parts) != 3 {
		t.Fatalf("expected text + 2 image parts, got %d", len(parts))
	}
	if parts[0].Text != taskPrompt {
		t.Errorf("first part = %q, want task prompt", parts[0].Text)
	}
	for i, want := range []string{"page-one", "page-two"} {
		blob := parts[i+1].InlineData
		if blob == nil {
			t.Fatalf("part %d has no inline data", i+1)
		}
		if string(blob.Data) != want || blob.MIMEType != "image/jpeg" {
			t.Errorf("part %d = %q (%s), want %q (image/jpeg)", i+1, blob.Data, blob.MIMEType, want)
		}
	}

	if gotConfig.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q", gotConfig.ResponseMIMEType)
	}
	if gotConfig.MaxOutputTokens != DefaultMaxOutputTokens {
		t.Errorf("MaxOutputTokens = %d, want %d", gotConfig.MaxOutputTokens, DefaultMaxOutputTokens)
	}
	if gotConfig.MediaResolution != genai.MediaResolutionLow {
		t.Errorf("MediaResolution = %q, want low", gotConfig.MediaResolution)
	}
	if gotConfig.Temperature == nil || *gotConfig.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", gotConfig.Temperature)
	}
	if gotConfig.ResponseSchema == nil {
		t.Error("ResponseSchema not set")
	}
	sys := gotConfig.SystemInstruction.Parts[0].Text
	if !strings.HasPrefix(sys, "Extract everything.") {
		t.Errorf("system instruction should start with caller instructions, got:\n%s", sys)
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name     string
		resp     *genai.GenerateContentResponse
		err      error
		wantKind error
	}{
		{
			name:     "api error",
			err:      errors.New("503 service unavailable"),
			wantKind: domain.ErrExtractionFailed,
		},
		{
			name:     "deadline exceeded",
			err:      context.DeadlineExceeded,
			wantKind: domain.ErrCancelled,
		},
		{
			name:     "no candidates",
			resp:     &genai.GenerateContentResponse{},
			wantKind: domain.ErrMalformedExtraction,
		},
		{
			name: "blocked prompt",
			resp: &genai.GenerateContentResponse{
				PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
			},
			wantKind: domain.ErrMalformedExtraction,
		},
		{
			name: "truncated",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content:      genai.NewContentFromText(`{"bankName":"Acme"`, genai.RoleModel),
					FinishReason: genai.FinishReasonMaxTokens,
				}},
			},
			wantKind: domain.ErrMalformedExtraction,
		},
		{
			name:     "empty text",
			resp:     textResponse(""),
			wantKind: domain.ErrMalformedExtraction,
		},
		{
			name:     "schema violation",
			resp:     textResponse(`{"statementDate":"2024-03","items":[{"date":"2024-03-01"}]}`),
			wantKind: domain.ErrMalformedExtraction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &MockGenerator{
				GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
					return tt.resp, tt.err
				},
			}
			e := NewGeminiExtractorWithGenerator(gen)

			_, err := e.Extract(context.Background(), testPages(), testTaxonomy(), "")
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("expected %v, got %v", tt.wantKind, err)
			}
			if gen.calls != 1 {
				t.Errorf("expected exactly one upstream call, got %d", gen.calls)
			}
		})
	}
}

func TestExtract_CancelledContext(t *testing.T) {
	gen := &MockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, ctx.Err()
		},
	}
	e := NewGeminiExtractorWithGenerator(gen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Extract(ctx, testPages(), testTaxonomy(), "")
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if errors.Is(err, domain.ErrExtractionFailed) {
		t.Error("cancellation must not be reported as an extraction failure")
	}
}

func TestExtract_InvalidInput(t *testing.T) {
	gen := &MockGenerator{}
	e := NewGeminiExtractorWithGenerator(gen)

	if _, err := e.Extract(context.Background(), nil, testTaxonomy(), ""); err == nil {
		t.Error("expected error for zero pages")
	}
	if _, err := e.Extract(context.Background(), testPages(), nil, ""); err == nil {
		t.Error("expected error for empty taxonomy")
	}
	bad := []domain.RasterPage{{Index: 0, Image: "%%%"}}
	if _, err := e.Extract(context.Background(), bad, testTaxonomy(), ""); err == nil {
		t.Error("expected error for invalid base64 page")
	}
	if gen.calls != 0 {
		t.Errorf("invalid input must not reach the model, got %d calls", gen.calls)
	}
}
