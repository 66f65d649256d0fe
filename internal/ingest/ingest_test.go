package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/bill-parser/internal/domain"
	infraBQ "github.com/dvloznov/bill-parser/internal/infra/bigquery"
	"github.com/dvloznov/bill-parser/internal/jobs"
	"github.com/dvloznov/bill-parser/internal/pipeline"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockFetcher is a mock implementation of Fetcher for testing.
type MockFetcher struct {
	FetchFromGCSFunc func(ctx context.Context, gcsURI string) ([]byte, error)
}

func (m *MockFetcher) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	if m.FetchFromGCSFunc != nil {
		return m.FetchFromGCSFunc(ctx, gcsURI)
	}
	return []byte("%PDF-1.7"), nil
}

// MockRunner is a mock implementation of Runner for testing.
type MockRunner struct {
	RunFunc func(ctx context.Context, req pipeline.Request) (*domain.BillStatement, error)
	last    pipeline.Request
	calls   int
}

func (m *MockRunner) Run(ctx context.Context, req pipeline.Request) (*domain.BillStatement, error) {
	m.calls++
	m.last = req
	if m.RunFunc != nil {
		return m.RunFunc(ctx, req)
	}
	return sampleStatement(), nil
}

// MockArchiver is a mock implementation of Archiver for testing.
type MockArchiver struct {
	UploadBytesFunc func(ctx context.Context, bucket, object, contentType string, data []byte) (string, error)
	object          string
	contentType     string
	data            []byte
}

func (m *MockArchiver) UploadBytes(ctx context.Context, bucket, object, contentType string, data []byte) (string, error) {
	m.object = object
	m.contentType = contentType
	m.data = data
	if m.UploadBytesFunc != nil {
		return m.UploadBytesFunc(ctx, bucket, object, contentType, data)
	}
	return "gs://" + bucket + "/" + object, nil
}

// MockLedger is a mock implementation of RunLedger for testing.
type MockLedger struct {
	InsertRunFunc func(ctx context.Context, run *infraBQ.StatementRunRow, categories []*infraBQ.StatementCategoryRow) error
	runs          []*infraBQ.StatementRunRow
	categories    [][]*infraBQ.StatementCategoryRow
}

func (m *MockLedger) InsertRun(ctx context.Context, run *infraBQ.StatementRunRow, categories []*infraBQ.StatementCategoryRow) error {
	m.runs = append(m.runs, run)
	m.categories = append(m.categories, categories)
	if m.InsertRunFunc != nil {
		return m.InsertRunFunc(ctx, run, categories)
	}
	return nil
}

func (m *MockLedger) ListRecentRuns(ctx context.Context, limit int) ([]*infraBQ.StatementRunRow, error) {
	return m.runs, nil
}

func sampleSettings() domain.Settings {
	return domain.Settings{Categories: domain.Taxonomy{{Name: "Food"}}}
}

func sampleStatement() *domain.BillStatement {
	amount := decimal.RequireFromString("42.50")
	return &domain.BillStatement{
		BankName:      "Acme Bank",
		CardType:      "Visa",
		StatementDate: "2024-03",
		TotalAmount:   amount,
		Categories: []domain.CategoryStat{{
			Name:       "Food",
			Amount:     amount,
			Percentage: decimal.NewFromInt(100),
			Items: []domain.StatementItem{{
				Date:        civil.Date{Year: 2024, Month: 3, Day: 2},
				Description: "Grocer",
				Amount:      amount,
			}},
		}},
		Items: []domain.BillItem{{
			Date:        civil.Date{Year: 2024, Month: 3, Day: 2},
			Description: "Grocer",
			Amount:      amount,
			Category:    "Food",
		}},
	}
}

func fixedNow() time.Time {
	return time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
}

func TestIngest_Success(t *testing.T) {
	runner := &MockRunner{}
	archiver := &MockArchiver{}
	ledger := &MockLedger{}
	svc := NewService(&MockFetcher{}, runner, WithArchive(archiver, "results-bucket"), WithLedger(ledger))
	svc.now = fixedNow

	res, err := svc.Ingest(context.Background(), Request{
		GCSURI:   "gs://bills/statements/march.pdf",
		Password: "secret",
		Settings: sampleSettings(),
	})
	require.NoError(t, err)

	require.NotEmpty(t, res.RunID)
	assert.Equal(t, res.RunID, runner.last.RunID)
	assert.Equal(t, "secret", runner.last.Password)
	assert.Equal(t, []byte("%PDF-1.7"), runner.last.Document)

	assert.Equal(t, "results/2024/04/01/"+res.RunID+".json", archiver.object)
	assert.Equal(t, "application/json", archiver.contentType)
	assert.Equal(t, "gs://results-bucket/"+archiver.object, res.ResultURI)

	var archived domain.BillStatement
	require.NoError(t, json.Unmarshal(archiver.data, &archived))
	assert.Equal(t, "Acme Bank", archived.BankName)
	assert.Len(t, archived.Items, 1)

	require.Len(t, ledger.runs, 1)
	assert.Equal(t, infraBQ.RunStatusSuccess, ledger.runs[0].Status)
	assert.Equal(t, res.ResultURI, ledger.runs[0].ResultURI.StringVal)
	assert.Len(t, ledger.categories[0], 1)
}

func TestIngest_PipelineErrorReturnedUnchanged(t *testing.T) {
	pipelineErr := &domain.DecryptionError{}
	runner := &MockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request) (*domain.BillStatement, error) {
			return nil, pipelineErr
		},
	}
	archiver := &MockArchiver{}
	ledger := &MockLedger{}
	svc := NewService(&MockFetcher{}, runner, WithArchive(archiver, "b"), WithLedger(ledger))

	_, err := svc.Ingest(context.Background(), Request{GCSURI: "gs://b/x.pdf", Settings: sampleSettings()})
	require.Error(t, err)
	assert.Same(t, pipelineErr, err)
	assert.Nil(t, archiver.data)

	require.Len(t, ledger.runs, 1)
	assert.Equal(t, infraBQ.RunStatusFailed, ledger.runs[0].Status)
	assert.Equal(t, "decryption_failed", ledger.runs[0].ErrorKind.StringVal)
	assert.Empty(t, ledger.categories[0])
}

func TestIngest_FetchFailure(t *testing.T) {
	runner := &MockRunner{}
	ledger := &MockLedger{}
	fetcher := &MockFetcher{
		FetchFromGCSFunc: func(ctx context.Context, gcsURI string) ([]byte, error) {
			return nil, errors.New("object not found")
		},
	}
	svc := NewService(fetcher, runner, WithLedger(ledger))

	_, err := svc.Ingest(context.Background(), Request{GCSURI: "gs://b/x.pdf", Settings: sampleSettings()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object not found")
	assert.Equal(t, 0, runner.calls)
	require.Len(t, ledger.runs, 1)
	assert.Equal(t, infraBQ.RunStatusFailed, ledger.runs[0].Status)
}

func TestIngest_InvalidURI(t *testing.T) {
	runner := &MockRunner{}
	svc := NewService(&MockFetcher{}, runner)

	_, err := svc.Ingest(context.Background(), Request{GCSURI: "/tmp/x.pdf", Settings: sampleSettings()})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)
	assert.Equal(t, 0, runner.calls)
}

func TestIngest_ArchiveFailure(t *testing.T) {
	ledger := &MockLedger{}
	archiver := &MockArchiver{
		UploadBytesFunc: func(ctx context.Context, bucket, object, contentType string, data []byte) (string, error) {
			return "", errors.New("permission denied")
		},
	}
	svc := NewService(&MockFetcher{}, &MockRunner{}, WithArchive(archiver, "b"), WithLedger(ledger))

	_, err := svc.Ingest(context.Background(), Request{GCSURI: "gs://b/x.pdf", Settings: sampleSettings()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	require.Len(t, ledger.runs, 1)
	assert.Equal(t, infraBQ.RunStatusFailed, ledger.runs[0].Status)
}

func TestIngest_LedgerFailureDoesNotFailRun(t *testing.T) {
	ledger := &MockLedger{
		InsertRunFunc: func(ctx context.Context, run *infraBQ.StatementRunRow, categories []*infraBQ.StatementCategoryRow) error {
			return errors.New("quota exceeded")
		},
	}
	svc := NewService(&MockFetcher{}, &MockRunner{}, WithLedger(ledger))

	res, err := svc.Ingest(context.Background(), Request{GCSURI: "gs://b/x.pdf", Settings: sampleSettings()})
	require.NoError(t, err)
	assert.Empty(t, res.ResultURI)
	assert.NotNil(t, res.Statement)
}

func TestHandleJob(t *testing.T) {
	runner := &MockRunner{}
	svc := NewService(&MockFetcher{}, runner, WithArchive(&MockArchiver{}, "b"))

	job := &jobs.ParseStatementJob{
		JobID:    "job-1",
		GCSURI:   "gs://b/x.pdf",
		Password: "pw",
		Settings: sampleSettings(),
	}
	require.NoError(t, svc.HandleJob(context.Background(), job))

	assert.NotEmpty(t, job.RunID)
	assert.Equal(t, "pw", runner.last.Password)
	assert.Contains(t, job.ResultURI, job.RunID+".json")
}

func TestHandleJob_PropagatesRetryableError(t *testing.T) {
	runner := &MockRunner{
		RunFunc: func(ctx context.Context, req pipeline.Request) (*domain.BillStatement, error) {
			return nil, &domain.ExtractionError{Err: errors.New("503")}
		},
	}
	svc := NewService(&MockFetcher{}, runner)

	err := svc.HandleJob(context.Background(), &jobs.ParseStatementJob{GCSURI: "gs://b/x.pdf", Settings: sampleSettings()})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}
