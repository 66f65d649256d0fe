package extractor

import (
	"strings"

	"github.com/dvloznov/bill-parser/internal/domain"
)

// buildCategoriesPrompt lists the taxonomy for the model, formatted for
// LLM consumption, followed by the assignment rules.
func buildCategoriesPrompt(taxonomy domain.Taxonomy) string {
	var b strings.Builder
	b.WriteString("Use ONLY the following categories:\n\n")

	for _, c := range taxonomy {
		b.WriteString("- " + c.Name)
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString(": " + d)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("CATEGORY ASSIGNMENT RULES:\n")
	b.WriteString("1. Category name must be EXACTLY one of the names shown above (case-sensitive).\n")
	b.WriteString("2. Assign exactly one category per transaction.\n")
	b.WriteString("3. If you cannot classify a transaction confidently, omit its category instead of guessing.\n")
	b.WriteString("4. Dates are YYYY-MM-DD; the statement date is YYYY-MM.\n")
	b.WriteString("5. Amounts are plain numbers without currency symbols or thousands separators.\n")

	return b.String()
}

// buildSystemInstruction joins the caller's instructions, passed through
// verbatim, with the category guide.
func buildSystemInstruction(instructions string, taxonomy domain.Taxonomy) string {
	guide := buildCategoriesPrompt(taxonomy)
	if strings.TrimSpace(instructions) == "" {
		return guide
	}
	return instructions + "\n\n" + guide
}
