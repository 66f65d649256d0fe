package extractor

import (
	"github.com/dvloznov/bill-parser/internal/domain"
	"google.golang.org/genai"
)

// BuildResponseSchema returns the response schema for one extraction call.
// The category name is an enum of the taxonomy names, so it has to be rebuilt
// for every taxonomy. The category itself is optional: a transaction the
// model cannot classify is returned without one.
func BuildResponseSchema(taxonomy domain.Taxonomy) *genai.Schema {
	category := &genai.Schema{
		Type:        genai.TypeObject,
		Description: "Transaction category",
		Properties: map[string]*genai.Schema{
			"name": {
				Type:        genai.TypeString,
				Description: "Category name",
				Enum:        taxonomy.Names(),
			},
			"description": {
				Type:        genai.TypeString,
				Description: "Category description",
			},
		},
		Required:         []string{"name", "description"},
		PropertyOrdering: []string{"name", "description"},
	}

	item := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"date": {
				Type:        genai.TypeString,
				Description: "Transaction date YYYY-MM-DD",
			},
			"description": {
				Type:        genai.TypeString,
				Description: "Transaction description",
			},
			"amount": {
				Type:        genai.TypeNumber,
				Description: "Amount",
			},
			"category": category,
		},
		Required:         []string{"date", "description", "amount"},
		PropertyOrdering: []string{"date", "description", "amount", "category"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"bankName": {
				Type:        genai.TypeString,
				Description: "Bank name",
			},
			"cardType": {
				Type:        genai.TypeString,
				Description: "Credit card type",
			},
			"statementDate": {
				Type:        genai.TypeString,
				Description: "Statement date YYYY-MM",
			},
			"items": {
				Type:        genai.TypeArray,
				Description: "Transaction list",
				Items:       item,
			},
		},
		Required:         []string{"bankName", "cardType", "statementDate", "items"},
		PropertyOrdering: []string{"bankName", "cardType", "statementDate", "items"},
	}
}
