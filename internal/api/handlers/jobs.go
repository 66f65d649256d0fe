package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/bill-parser/internal/api/middleware"
	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/dvloznov/bill-parser/internal/gcs"
	infraBQ "github.com/dvloznov/bill-parser/internal/infra/bigquery"
	"github.com/dvloznov/bill-parser/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
	defaults  domain.Settings
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(publisher jobs.Publisher, store jobs.JobStore, defaults domain.Settings, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		publisher: publisher,
		store:     store,
		defaults:  defaults,
		log:       log,
	}
}

// EnqueueParsing handles POST /api/bills/jobs
func (h *JobsHandler) EnqueueParsing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GCSURI   string           `json:"gcs_uri"`
		Password string           `json:"password,omitempty"`
		Settings *domain.Settings `json:"settings,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if _, _, err := gcs.ParseGCSURI(req.GCSURI); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	settings := resolveSettings(req.Settings, h.defaults)
	if err := settings.Validate(); err != nil {
		middleware.WriteDomainError(w, err)
		return
	}

	job := &jobs.ParseStatementJob{
		GCSURI:   req.GCSURI,
		Password: req.Password,
		Settings: settings,
	}
	if err := h.publisher.PublishParseStatement(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue parsing job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "unavailable", "Failed to enqueue parsing job")
		return
	}

	// The worker owns job from here on; only the ID is read back.
	jobID := job.JobID
	h.log.Info().Str("job_id", jobID).Str("gcs_uri", req.GCSURI).Msg("Parsing job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  jobID,
		"gcs_uri": req.GCSURI,
		"status":  string(jobs.JobStatusPending),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "Job ID is required")
		return
	}

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "not_found", "Job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		GCSURI: query.Get("gcs_uri"),
		Status: jobs.JobStatus(query.Get("status")),
		Limit:  intParam(query.Get("limit")),
		Offset: intParam(query.Get("offset")),
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.ParseStatementJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// RunsHandler serves the run ledger.
type RunsHandler struct {
	ledger infraBQ.RunLedger
	log    zerolog.Logger
}

// NewRunsHandler creates a runs handler.
func NewRunsHandler(ledger infraBQ.RunLedger, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{ledger: ledger, log: log}
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.ledger.ListRecentRuns(r.Context(), intParam(r.URL.Query().Get("limit")))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "Failed to list runs")
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunResponse(run))
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  out,
		"count": len(out),
	})
}

// runResponse is the API view of a ledger row: nullable columns are
// omitted and NUMERIC values are decimals rather than fractions.
type runResponse struct {
	RunID          string           `json:"run_id"`
	SourceURI      string           `json:"source_uri,omitempty"`
	Status         string           `json:"status"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	BankName       string           `json:"bank_name,omitempty"`
	CardType       string           `json:"card_type,omitempty"`
	StatementMonth string           `json:"statement_month,omitempty"`
	TotalAmount    *decimal.Decimal `json:"total_amount,omitempty"`
	CategoryCount  int64            `json:"category_count,omitempty"`
	ItemCount      int64            `json:"item_count,omitempty"`
	ResultURI      string           `json:"result_uri,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
}

func newRunResponse(row *infraBQ.StatementRunRow) runResponse {
	resp := runResponse{
		RunID:         row.RunID,
		SourceURI:     row.SourceURI,
		Status:        row.Status,
		ErrorKind:     row.ErrorKind.StringVal,
		ErrorMessage:  row.ErrorMessage.StringVal,
		BankName:      row.BankName.StringVal,
		CardType:      row.CardType.StringVal,
		CategoryCount: row.CategoryCount.Int64,
		ItemCount:     row.ItemCount.Int64,
		ResultURI:     row.ResultURI.StringVal,
		StartedAt:     row.StartedTS,
	}
	if row.StatementMonth.Valid {
		resp.StatementMonth = row.StatementMonth.Date.String()[:len("2006-01")]
	}
	if row.TotalAmount != nil {
		// NUMERIC has nine fractional digits, so this is exact.
		if total, err := decimal.NewFromString(row.TotalAmount.FloatString(9)); err == nil {
			resp.TotalAmount = &total
		}
	}
	if row.FinishedTS.Valid {
		finished := row.FinishedTS.Timestamp
		resp.FinishedAt = &finished
	}
	return resp
}

// intParam parses a non-negative query integer; anything else is 0.
func intParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
