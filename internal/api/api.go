package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/airouter/internal/ai"
	"github.com/local/airouter/internal/dispatcher"
	"github.com/local/airouter/internal/metrics"
	"github.com/local/airouter/internal/queue"
	"github.com/local/airouter/internal/statuscheck"
	"github.com/local/airouter/internal/storage"
	"github.com/local/airouter/internal/store"
)

// ResultReader is the slice of the result store the API reads from.
type ResultReader interface {
	GetResult(ctx context.Context, jobID string, index int) (string, error)
	GetResultDetail(ctx context.Context, jobID string, index int) (string, string, string, error)
	AggregateText(ctx context.Context, jobID string, total int) (string, error)
}

// API exposes routing over HTTP: a synchronous endpoint for single
// documents and an enqueue endpoint that hands batches to the worker pool.
type API struct {
	router   *ai.Router
	q        *queue.RedisQueue
	results  ResultReader
	status   *store.RedisStatus
	archiver *storage.Archiver
	checker  *statuscheck.Checker
	engine   string
}

type Dependencies struct {
	Router   *ai.Router
	Queue    *queue.RedisQueue
	Results  ResultReader
	Status   *store.RedisStatus
	Archiver *storage.Archiver    // optional
	Checker  *statuscheck.Checker // optional
	// DefaultEngine is used when a request carries no engine.
	DefaultEngine string
}

func New(deps Dependencies) *API {
	return &API{
		router:   deps.Router,
		q:        deps.Queue,
		results:  deps.Results,
		status:   deps.Status,
		archiver: deps.Archiver,
		checker:  deps.Checker,
		engine:   deps.DefaultEngine,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/route", a.handleRoute)
	mux.HandleFunc("/enqueue", a.handleEnqueue)
	mux.HandleFunc("/result/", a.handleResult)
	mux.HandleFunc("/progress/", a.handleProgress)
	mux.HandleFunc("/webhook/cancel_job", a.handleCancelJob)
	mux.HandleFunc("/status", a.handleStatus)
}

// handleStatus reports readiness of Redis, S3 and the provider APIs.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if a.checker == nil {
		http.Error(w, "status checks not configured", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a.checker.Summary(r.Context()))
}

type routeReq struct {
	Engine          string                 `json:"engine"`
	SystemPrompt    string                 `json:"system_prompt"`
	UserPrompt      string                 `json:"user_prompt"`
	Temperature     float64                `json:"temperature"`
	TextToProcess   string                 `json:"text_to_process,omitempty"`
	ValidationText  string                 `json:"validation_text,omitempty"`
	JobType         string                 `json:"job_type,omitempty"`
	RequiredHeaders []string               `json:"required_headers,omitempty"`
	RawPrompt       bool                   `json:"raw_prompt,omitempty"`
	IsBase64        bool                   `json:"is_base64,omitempty"`
	Index           int                    `json:"index,omitempty"`
	Images          []dispatcher.JobImage  `json:"images,omitempty"`
	TimeoutSec      int                    `json:"timeout_seconds,omitempty"`
	Options         map[string]interface{} `json:"options,omitempty"`
}

type routeResp struct {
	Status string `json:"status"`
	Text   string `json:"text"`
	Index  int    `json:"index"`
}

func (r routeReq) job(jobID string) dispatcher.Job {
	return dispatcher.Job{
		JobID:           jobID,
		Index:           r.Index,
		Engine:          r.Engine,
		SystemPrompt:    r.SystemPrompt,
		UserPrompt:      r.UserPrompt,
		Temperature:     r.Temperature,
		TextToProcess:   r.TextToProcess,
		ValidationText:  r.ValidationText,
		JobType:         r.JobType,
		RequiredHeaders: r.RequiredHeaders,
		RawPrompt:       r.RawPrompt,
		IsBase64:        r.IsBase64,
		Images:          r.Images,
		TimeoutSec:      r.TimeoutSec,
	}
}

// handleRoute routes a single document synchronously and returns the text.
func (a *API) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var req routeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Engine == "" {
		req.Engine = a.engine
	}
	if req.UserPrompt == "" {
		http.Error(w, "missing user_prompt", http.StatusBadRequest)
		return
	}

	res, err := a.router.Route(r.Context(), req.job("").Request())
	if err != nil {
		// only unsupported engines surface as errors
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	status := "ok"
	if res.Text == ai.ErrorMarker {
		status = "error"
	}
	writeJSON(w, http.StatusOK, routeResp{Status: status, Text: res.Text, Index: res.Index})
}

type enqueueReq struct {
	Engine    string     `json:"engine"`
	Documents []routeReq `json:"documents"`
}

type enqueueResp struct {
	Status  string `json:"status"`
	JobID   string `json:"job_id"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// handleEnqueue creates a job from a batch of documents and queues each one.
func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Documents) == 0 {
		http.Error(w, "missing documents", http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	start := time.Now()
	_ = a.status.Set(r.Context(), jobID, store.Status{
		Status:   "queued",
		Progress: 0,
		Message:  "queued",
		Start:    &start,
		Metadata: map[string]interface{}{"total": len(req.Documents)},
	})

	for i, doc := range req.Documents {
		if doc.Engine == "" {
			doc.Engine = req.Engine
		}
		if doc.Engine == "" {
			doc.Engine = a.engine
		}
		if doc.Index == 0 {
			doc.Index = i + 1
		}
		j := doc.job(jobID)
		j.Total = len(req.Documents)
		payload, _ := json.Marshal(j)
		if err := a.q.Enqueue(r.Context(), payload); err != nil {
			log.Error().Err(err).Str("job_id", jobID).Int("index", doc.Index).Msg("enqueue failed")
			http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	log.Info().Str("job_id", jobID).Int("total", len(req.Documents)).Msg("job enqueued")
	writeJSON(w, http.StatusCreated, enqueueResp{Status: "ok", JobID: jobID, Total: len(req.Documents)})
}

type resultResp struct {
	JobID    string `json:"job_id"`
	Text     string `json:"text"`
	Provider string `json:"provider,omitempty"`
	Engine   string `json:"engine,omitempty"`
}

// handleResult aggregates stored document texts for a job. With ?index=N it
// returns a single document instead, with the provider and engine that
// produced it.
func (a *API) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/result/")
	if jobID == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}

	if idx := r.URL.Query().Get("index"); idx != "" {
		i, err := strconv.Atoi(idx)
		if err != nil {
			http.Error(w, "invalid index", http.StatusBadRequest)
			return
		}
		text, provider, engine, err := a.results.GetResultDetail(r.Context(), jobID, i)
		if err != nil {
			http.Error(w, "result lookup failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, resultResp{JobID: jobID, Text: text, Provider: provider, Engine: engine})
		return
	}

	total := a.jobTotal(r.Context(), jobID)
	text, err := a.results.AggregateText(r.Context(), jobID, total)
	if err != nil {
		http.Error(w, "result lookup failed", http.StatusInternalServerError)
		return
	}
	if text == "" && a.archiver != nil {
		if archived, err := a.archiver.FetchResult(r.Context(), jobID); err == nil {
			text = archived
		}
	}
	writeJSON(w, http.StatusOK, resultResp{JobID: jobID, Text: text})
}

func (a *API) jobTotal(ctx context.Context, jobID string) int {
	st, ok, err := a.status.Get(ctx, jobID)
	if err != nil || !ok {
		return 0
	}
	if v, ok := st.Metadata["total"]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return 0
}

func (a *API) handleProgress(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/progress/")
	if jobID == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}
	st, ok, err := a.status.Get(r.Context(), jobID)
	if err != nil {
		http.Error(w, "status lookup failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":   jobID,
		"status":   st.Status,
		"progress": st.Progress,
		"message":  st.Message,
		"metadata": st.Metadata,
	})
}

type cancelReq struct {
	JobID string `json:"job_id"`
}

func (a *API) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		http.Error(w, "missing job_id", http.StatusBadRequest)
		return
	}
	if err := a.q.CancelJob(r.Context(), req.JobID); err != nil {
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	_ = a.status.Set(r.Context(), req.JobID, store.Status{Status: "cancelled", Message: "cancelled by webhook"})
	log.Info().Str("job_id", req.JobID).Msg("job cancelled")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "job_id": req.JobID})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
