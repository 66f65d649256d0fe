package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/bill-parser/internal/domain"
)

// ErrJobNotFound is returned by a JobStore for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	// JobStatusRetrying indicates a retryable failure; the job will be
	// re-enqueued after a backoff.
	JobStatusRetrying JobStatus = "retrying"
)

// Finished reports whether no further processing will happen.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ParseStatementJob represents a job to run the bill pipeline on a PDF
// stored in GCS.
type ParseStatementJob struct {
	JobID  string `json:"job_id"`
	GCSURI string `json:"gcs_uri"`

	// Password opens encrypted PDFs. It is kept in memory for retries and
	// never serialized.
	Password string `json:"-"`

	Settings domain.Settings `json:"-"`

	Status JobStatus `json:"status"`

	// RunID identifies the pipeline run in the run ledger.
	RunID string `json:"run_id,omitempty"`

	// ResultURI is where the statement JSON was archived.
	ResultURI string `json:"result_uri,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error and ErrorKind describe the last failure.
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Job is anything a Consumer hands to a JobHandler.
type Job interface {
	GetID() string
}

func (j *ParseStatementJob) GetID() string { return j.JobID }

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	PublishParseStatement(ctx context.Context, job *ParseStatementJob) error
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. Failures are retried only when
// domain.IsRetryable reports true for the returned error.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	SaveJob(ctx context.Context, job *ParseStatementJob) error
	GetJob(ctx context.Context, jobID string) (*ParseStatementJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ParseStatementJob, error)
}

// JobFilter selects jobs in ListJobs. Zero fields match everything.
type JobFilter struct {
	GCSURI string
	Status JobStatus
	Limit  int
	Offset int
}

// Matches reports whether job passes the GCSURI and Status criteria.
func (f JobFilter) Matches(job *ParseStatementJob) bool {
	if f.GCSURI != "" && job.GCSURI != f.GCSURI {
		return false
	}
	return f.Status == "" || job.Status == f.Status
}
