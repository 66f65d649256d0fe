package notionsync

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the Notion bill items database.
const (
	PropDescription   = "Description"
	PropDate          = "Date"
	PropAmount        = "Amount"
	PropCategory      = "Category"
	PropBank          = "Bank"
	PropCard          = "Card"
	PropStatement     = "Statement"
	PropStatementDate = "Statement Month"
)

// StatementKey identifies a statement in Notion so re-exports replace the
// previous pages instead of duplicating them.
func StatementKey(stmt *domain.BillStatement) string {
	return fmt.Sprintf("%s|%s|%s", stmt.BankName, stmt.CardType, stmt.StatementDate)
}

// BillItemToNotionProperties converts one statement item to Notion properties.
func BillItemToNotionProperties(stmt *domain.BillStatement, item domain.BillItem) notionapi.Properties {
	props := notionapi.Properties{
		PropDescription: notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: item.Description,
					},
				},
			},
		},
		PropDate: notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: civilToNotionDate(item.Date),
			},
		},
		PropAmount: notionapi.NumberProperty{
			Number: item.Amount.InexactFloat64(),
		},
		PropCategory: notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: item.Category,
			},
		},
		PropStatement: richText(StatementKey(stmt)),
	}

	if stmt.BankName != "" {
		props[PropBank] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: stmt.BankName},
		}
	}
	if stmt.CardType != "" {
		props[PropCard] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: stmt.CardType},
		}
	}
	if stmt.StatementDate != "" {
		props[PropStatementDate] = richText(stmt.StatementDate)
	}

	return props
}

func richText(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		RichText: []notionapi.RichText{
			{
				Type: notionapi.ObjectTypeText,
				Text: &notionapi.Text{
					Content: s,
				},
			},
		},
	}
}

func civilToNotionDate(d civil.Date) *notionapi.Date {
	nd := notionapi.Date(time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC))
	return &nd
}
