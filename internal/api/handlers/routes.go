package handlers

import "net/http"

// Routes groups the handlers mounted by NewRouter. Nil handlers leave
// their routes unregistered.
type Routes struct {
	Bills   *BillsHandler
	Jobs    *JobsHandler
	Runs    *RunsHandler
	Metrics http.Handler
}

// NewRouter registers every configured route on a new ServeMux.
func NewRouter(rt Routes) *http.ServeMux {
	mux := http.NewServeMux()

	if rt.Bills != nil {
		mux.HandleFunc("POST /api/bills/parse", rt.Bills.Parse)
		mux.HandleFunc("POST /api/bills/parse-images", rt.Bills.ParseImages)
	}
	if rt.Jobs != nil {
		mux.HandleFunc("POST /api/bills/jobs", rt.Jobs.EnqueueParsing)
		mux.HandleFunc("GET /api/jobs", rt.Jobs.ListJobs)
		mux.HandleFunc("GET /api/jobs/{id}", rt.Jobs.GetJob)
	}
	if rt.Runs != nil {
		mux.HandleFunc("GET /api/runs", rt.Runs.ListRuns)
	}
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}
	mux.HandleFunc("GET /health", Health)

	return mux
}
