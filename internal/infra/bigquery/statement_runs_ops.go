// Package bigquery keeps the ledger of pipeline runs in BigQuery.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

const (
	runsTable       = "statement_runs"
	categoriesTable = "statement_categories"
)

// RunLedger records and lists pipeline runs.
type RunLedger interface {
	InsertRun(ctx context.Context, run *StatementRunRow, categories []*StatementCategoryRow) error
	ListRecentRuns(ctx context.Context, limit int) ([]*StatementRunRow, error)
}

// BigQueryRunRepository is the concrete implementation of RunLedger. It
// holds a shared BigQuery client.
type BigQueryRunRepository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

var _ RunLedger = (*BigQueryRunRepository)(nil)

// NewBigQueryRunRepository creates a repository with its own client.
func NewBigQueryRunRepository(ctx context.Context, projectID, datasetID string) (*BigQueryRunRepository, error) {
	if projectID == "" || datasetID == "" {
		return nil, fmt.Errorf("NewBigQueryRunRepository: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRunRepository: creating client: %w", err)
	}
	return &BigQueryRunRepository{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryRunRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// EnsureTables creates the ledger tables if they do not exist.
func (r *BigQueryRunRepository) EnsureTables(ctx context.Context) error {
	for _, ddl := range []string{createRunsTableSQL, createCategoriesTableSQL} {
		sql := fmt.Sprintf(ddl, r.projectID, r.datasetID)
		if err := r.runQuery(ctx, r.client.Query(sql)); err != nil {
			return fmt.Errorf("EnsureTables: %w", err)
		}
	}
	return nil
}

// InsertRun streams the run row and its category rows.
func (r *BigQueryRunRepository) InsertRun(ctx context.Context, run *StatementRunRow, categories []*StatementCategoryRow) error {
	ds := r.client.DatasetInProject(r.projectID, r.datasetID)

	if err := ds.Table(runsTable).Inserter().Put(ctx, run); err != nil {
		return fmt.Errorf("InsertRun: inserting run %s: %w", run.RunID, err)
	}
	if len(categories) == 0 {
		return nil
	}
	if err := ds.Table(categoriesTable).Inserter().Put(ctx, categories); err != nil {
		return fmt.Errorf("InsertRun: inserting categories for run %s: %w", run.RunID, err)
	}
	return nil
}

// ListRecentRuns returns the newest runs first.
func (r *BigQueryRunRepository) ListRecentRuns(ctx context.Context, limit int) ([]*StatementRunRow, error) {
	if limit <= 0 {
		limit = 50
	}

	q := r.client.Query(fmt.Sprintf(`
		SELECT
			run_id,
			source_uri,
			status,
			error_kind,
			error_message,
			bank_name,
			card_type,
			statement_month,
			total_amount,
			category_count,
			item_count,
			result_uri,
			started_ts,
			finished_ts
		FROM `+"`%s.%s.%s`"+`
		ORDER BY started_ts DESC
		LIMIT @limit
	`, r.projectID, r.datasetID, runsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecentRuns: reading query: %w", err)
	}

	var runs []*StatementRunRow
	for {
		var row StatementRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecentRuns: iterating: %w", err)
		}
		runs = append(runs, &row)
	}
	return runs, nil
}

func (r *BigQueryRunRepository) runQuery(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

const createRunsTableSQL = `
	CREATE TABLE IF NOT EXISTS ` + "`%s.%s.statement_runs`" + ` (
		run_id          STRING NOT NULL,
		source_uri      STRING,
		status          STRING NOT NULL,
		error_kind      STRING,
		error_message   STRING,
		bank_name       STRING,
		card_type       STRING,
		statement_month DATE,
		total_amount    NUMERIC,
		category_count  INT64,
		item_count      INT64,
		result_uri      STRING,
		started_ts      TIMESTAMP NOT NULL,
		finished_ts     TIMESTAMP
	)
	PARTITION BY DATE(started_ts)
`

const createCategoriesTableSQL = `
	CREATE TABLE IF NOT EXISTS ` + "`%s.%s.statement_categories`" + ` (
		run_id     STRING NOT NULL,
		category   STRING NOT NULL,
		amount     NUMERIC NOT NULL,
		percentage NUMERIC NOT NULL,
		item_count INT64 NOT NULL
	)
`
