package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/shopspring/decimal"
)

// decodeRawStatement validates the model's response text against the
// extraction schema and converts it into a RawStatement. Category names are
// passed through unchecked; aggregation validates them against the taxonomy.
func decodeRawStatement(rawText string) (*domain.RawStatement, error) {
	clean := cleanModelJSON(rawText)

	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, malformed(rawText, "unmarshal JSON: %v", err)
	}
	if obj == nil {
		return nil, malformed(rawText, "response is not a JSON object")
	}

	bankName, err := getStringField(obj, "bankName", fieldPresent)
	if err != nil {
		return nil, malformed(rawText, "%v", err)
	}
	cardType, err := getStringField(obj, "cardType", fieldPresent)
	if err != nil {
		return nil, malformed(rawText, "%v", err)
	}
	statementDate, err := getStringField(obj, "statementDate", fieldNonEmpty)
	if err != nil {
		return nil, malformed(rawText, "%v", err)
	}
	period, err := normalizeStatementDate(statementDate)
	if err != nil {
		return nil, malformed(rawText, "%v", err)
	}

	itemsAny, ok := obj["items"]
	if !ok {
		return nil, malformed(rawText, "missing required field %q", "items")
	}
	items, ok := itemsAny.([]interface{})
	if !ok {
		return nil, malformed(rawText, "field %q has type %T, want array", "items", itemsAny)
	}

	txs := make([]domain.RawTransaction, 0, len(items))
	for i, item := range items {
		tx, err := transformItem(item)
		if err != nil {
			return nil, malformed(rawText, "item %d: %v", i, err)
		}
		txs = append(txs, tx)
	}

	return &domain.RawStatement{
		BankName:      bankName,
		CardType:      cardType,
		StatementDate: period,
		Transactions:  txs,
	}, nil
}

func transformItem(item interface{}) (domain.RawTransaction, error) {
	obj, ok := item.(map[string]interface{})
	if !ok {
		return domain.RawTransaction{}, fmt.Errorf("element is %T, want object", item)
	}

	dateStr, err := getStringField(obj, "date", fieldNonEmpty)
	if err != nil {
		return domain.RawTransaction{}, err
	}
	date, err := civil.ParseDate(strings.TrimSpace(dateStr))
	if err != nil {
		return domain.RawTransaction{}, fmt.Errorf("invalid date %q: %w", dateStr, err)
	}

	desc, err := getStringField(obj, "description", fieldNonEmpty)
	if err != nil {
		return domain.RawTransaction{}, err
	}

	amount, err := getDecimalField(obj, "amount")
	if err != nil {
		return domain.RawTransaction{}, err
	}

	category, err := getCategoryField(obj, "category")
	if err != nil {
		return domain.RawTransaction{}, err
	}

	return domain.RawTransaction{
		Date:        date,
		Description: strings.TrimSpace(desc),
		Amount:      amount,
		Category:    category,
	}, nil
}

// normalizeStatementDate accepts YYYY-MM, or a full YYYY-MM-DD which is
// reduced to its month.
func normalizeStatementDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01", s); err == nil {
		return t.Format("2006-01"), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("2006-01"), nil
	}
	return "", fmt.Errorf("invalid statementDate %q, want YYYY-MM", s)
}

func malformed(raw, format string, args ...interface{}) error {
	return &domain.MalformedExtractionError{
		Reason: fmt.Sprintf(format, args...),
		Raw:    raw,
	}
}

// cleanModelJSON strips Markdown fences and surrounding prose in case the
// model ignored the response MIME type.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost object.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}

// fieldRule says how strictly getStringField treats a key.
type fieldRule int

const (
	fieldOptional fieldRule = iota
	// fieldPresent requires the key but accepts an empty string.
	fieldPresent
	fieldNonEmpty
)

func getStringField(m map[string]interface{}, key string, rule fieldRule) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if rule != fieldOptional {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if rule == fieldNonEmpty && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func getDecimalField(m map[string]interface{}, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.Zero, fmt.Errorf("missing required field %q", key)
	}
	switch val := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q: invalid number %q: %w", key, val, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}

// getCategoryField reads the optional category. A bare string is accepted
// as the name for services that flatten the object.
func getCategoryField(m map[string]interface{}, key string) (*domain.RawCategory, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		return &domain.RawCategory{Name: val}, nil
	case map[string]interface{}:
		name, err := getStringField(val, "name", fieldOptional)
		if err != nil {
			return nil, fmt.Errorf("category: %w", err)
		}
		desc, err := getStringField(val, "description", fieldPresent)
		if err != nil {
			return nil, fmt.Errorf("category: %w", err)
		}
		if strings.TrimSpace(name) == "" {
			return nil, nil
		}
		return &domain.RawCategory{Name: name, Description: desc}, nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want object or null", key, v)
	}
}
