package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/bill-parser/internal/domain"
)

// Run statuses.
const (
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// StatementRunRow is one pipeline run in the ledger.
type StatementRunRow struct {
	RunID     string `bigquery:"run_id"`     // REQUIRED
	SourceURI string `bigquery:"source_uri"` // NULLABLE (empty for inline uploads)
	Status    string `bigquery:"status"`     // REQUIRED

	ErrorKind    bigquery.NullString `bigquery:"error_kind"`    // NULLABLE
	ErrorMessage bigquery.NullString `bigquery:"error_message"` // NULLABLE

	BankName bigquery.NullString `bigquery:"bank_name"` // NULLABLE
	CardType bigquery.NullString `bigquery:"card_type"` // NULLABLE

	// StatementMonth is the first day of the statement month.
	StatementMonth bigquery.NullDate `bigquery:"statement_month"` // NULLABLE

	TotalAmount   *big.Rat           `bigquery:"total_amount"`   // NULLABLE NUMERIC
	CategoryCount bigquery.NullInt64 `bigquery:"category_count"` // NULLABLE
	ItemCount     bigquery.NullInt64 `bigquery:"item_count"`     // NULLABLE

	ResultURI bigquery.NullString `bigquery:"result_uri"` // NULLABLE

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE
}

// StatementCategoryRow is one category total of a successful run.
type StatementCategoryRow struct {
	RunID      string   `bigquery:"run_id"`     // REQUIRED
	Category   string   `bigquery:"category"`   // REQUIRED
	Amount     *big.Rat `bigquery:"amount"`     // REQUIRED NUMERIC
	Percentage *big.Rat `bigquery:"percentage"` // REQUIRED NUMERIC
	ItemCount  int64    `bigquery:"item_count"` // REQUIRED
}

// RunRecord describes a finished run for NewRunRows.
type RunRecord struct {
	RunID     string
	SourceURI string
	ResultURI string
	Started   time.Time
	Finished  time.Time
	Statement *domain.BillStatement
	Err       error
}

// NewRunRows converts a finished run into its ledger rows. Failed runs have
// no category rows.
func NewRunRows(rec RunRecord) (*StatementRunRow, []*StatementCategoryRow) {
	row := &StatementRunRow{
		RunID:      rec.RunID,
		SourceURI:  rec.SourceURI,
		Status:     RunStatusSuccess,
		StartedTS:  rec.Started,
		FinishedTS: bigquery.NullTimestamp{Timestamp: rec.Finished, Valid: !rec.Finished.IsZero()},
		ResultURI:  nullString(rec.ResultURI),
	}

	if rec.Err != nil {
		row.Status = RunStatusFailed
		row.ErrorKind = nullString(domain.ErrorKind(rec.Err))
		row.ErrorMessage = nullString(rec.Err.Error())
		return row, nil
	}
	if rec.Statement == nil {
		return row, nil
	}

	stmt := rec.Statement
	row.BankName = nullString(stmt.BankName)
	row.CardType = nullString(stmt.CardType)
	if month, ok := statementMonth(stmt.StatementDate); ok {
		row.StatementMonth = bigquery.NullDate{Date: month, Valid: true}
	}
	row.TotalAmount = stmt.TotalAmount.Rat()
	row.CategoryCount = bigquery.NullInt64{Int64: int64(len(stmt.Categories)), Valid: true}
	row.ItemCount = bigquery.NullInt64{Int64: int64(len(stmt.Items)), Valid: true}

	cats := make([]*StatementCategoryRow, 0, len(stmt.Categories))
	for _, c := range stmt.Categories {
		cats = append(cats, &StatementCategoryRow{
			RunID:      rec.RunID,
			Category:   c.Name,
			Amount:     c.Amount.Rat(),
			Percentage: c.Percentage.Rat(),
			ItemCount:  int64(len(c.Items)),
		})
	}
	return row, cats
}

func statementMonth(s string) (civil.Date, bool) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return civil.Date{}, false
	}
	return civil.DateOf(t), true
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
