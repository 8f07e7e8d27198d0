package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/airouter/internal/ai"
	cfgpkg "github.com/local/airouter/internal/config"
	"github.com/local/airouter/internal/limiter"
	mpkg "github.com/local/airouter/internal/metrics"
	"github.com/local/airouter/internal/queue"
	"github.com/local/airouter/internal/storage"
	"github.com/local/airouter/internal/store"
)

// JobImage is an image reference carried in a queued job. Bytes travel as
// pre-encoded base64 so payloads stay printable.
type JobImage struct {
	Label   string `json:"label,omitempty"`
	Path    string `json:"path,omitempty"`
	Encoded string `json:"encoded,omitempty"`
}

// Job is one queued routing request, one document unit per message.
type Job struct {
	JobID           string     `json:"job_id"`
	Index           int        `json:"index"`
	Total           int        `json:"total,omitempty"`
	Engine          string     `json:"engine"`
	SystemPrompt    string     `json:"system_prompt"`
	UserPrompt      string     `json:"user_prompt"`
	Temperature     float64    `json:"temperature"`
	TextToProcess   string     `json:"text_to_process,omitempty"`
	ValidationText  string     `json:"validation_text,omitempty"`
	JobType         string     `json:"job_type,omitempty"`
	RequiredHeaders []string   `json:"required_headers,omitempty"`
	RawPrompt       bool       `json:"raw_prompt,omitempty"`
	IsBase64        bool       `json:"is_base64,omitempty"`
	Images          []JobImage `json:"images,omitempty"`
	TimeoutSec      int        `json:"timeout_seconds,omitempty"`
}

// Request converts a queued job into a core routing request.
func (j Job) Request() ai.Request {
	atts := make([]ai.Attachment, 0, len(j.Images))
	for _, img := range j.Images {
		atts = append(atts, ai.Attachment{Label: img.Label, Path: img.Path, Encoded: img.Encoded})
	}
	var timeout time.Duration
	if j.TimeoutSec > 0 {
		timeout = time.Duration(j.TimeoutSec) * time.Second
	}
	return ai.Request{
		Engine:          j.Engine,
		SystemPrompt:    j.SystemPrompt,
		UserPrompt:      j.UserPrompt,
		Temperature:     j.Temperature,
		TextToProcess:   j.TextToProcess,
		Images:          atts,
		ValidationText:  j.ValidationText,
		Index:           j.Index,
		JobType:         j.JobType,
		RequiredHeaders: j.RequiredHeaders,
		RawPrompt:       j.RawPrompt,
		Base64:          j.IsBase64,
		Timeout:         timeout,
	}
}

// Config holds worker pool settings.
type Config struct {
	Concurrency int
}

// Worker drains the routing stream and drives each job through the router.
// Fan-out is bounded by the pool size; each request carries its own retry
// state inside the router, so workers share nothing but clients.
type Worker struct {
	cfg     Config
	conf    cfgpkg.Config
	q       *queue.RedisQueue
	router  *ai.Router
	results *store.ResultStore
	status  *store.RedisStatus
	breaker *CircuitBreaker
	lim     *limiter.Adaptive
	arch    *storage.Archiver
	stop    chan struct{}
}

type Deps struct {
	Queue    *queue.RedisQueue
	Router   *ai.Router
	Results  *store.ResultStore
	Status   *store.RedisStatus
	Breaker  *CircuitBreaker
	Limiter  *limiter.Adaptive
	Archiver *storage.Archiver // optional
}

func New(cfg Config, conf cfgpkg.Config, deps Deps) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Worker{
		cfg:     cfg,
		conf:    conf,
		q:       deps.Queue,
		router:  deps.Router,
		results: deps.Results,
		status:  deps.Status,
		breaker: deps.Breaker,
		lim:     deps.Limiter,
		arch:    deps.Archiver,
		stop:    make(chan struct{}),
	}
}

func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		go w.loop(i)
	}
}

func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	return nil
}

func (w *Worker) loop(id int) {
	log.Info().Int("worker", id).Msg("router worker started")
	consumer := fmt.Sprintf("worker-%d", id)
	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("router worker stopped")
			return
		default:
		}

		msgID, data, err := w.q.Dequeue(context.Background(), consumer, 2*time.Second)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if data == nil {
			continue
		}

		w.process(msgID, data)
	}
}

func (w *Worker) process(msgID string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), w.conf.Worker.JobTotalTimeout)
	defer cancel()
	defer func() { _ = w.q.Ack(context.Background(), msgID) }()

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		log.Error().Err(err).Msg("malformed job payload")
		_ = w.q.AddDLQ(ctx, data, "malformed payload")
		mpkg.IncProcessed("dlq")
		return
	}

	if job.JobID != "" {
		if cancelled, _ := w.q.IsCancelled(ctx, job.JobID); cancelled {
			log.Warn().Str("job_id", job.JobID).Int("index", job.Index).Msg("job cancelled; skipping")
			return
		}
	}

	provider, err := ai.ParseEngine(job.Engine)
	if err != nil {
		// unsupported engine is permanent; never requeue
		log.Error().Err(err).Str("job_id", job.JobID).Int("index", job.Index).Msg("unsupported engine in job")
		_ = w.q.AddDLQ(ctx, data, err.Error())
		mpkg.IncProcessed("dlq")
		return
	}

	if w.breaker.IsOpen(ctx, provider.String(), job.Engine) || w.lim.InCooldown(ctx, provider.String(), job.Engine) {
		log.Debug().
			Str("provider", provider.String()).
			Str("engine", job.Engine).
			Msg("breaker open - deferring job")
		_ = w.q.EnqueueDelayed(ctx, data, time.Now().Add(w.conf.Worker.BreakerBaseBackoff))
		return
	}

	release, ok := w.lim.Allow(provider.String(), job.Engine)
	if !ok {
		_ = w.q.EnqueueDelayed(ctx, data, time.Now().Add(2*time.Second))
		return
	}
	defer release()

	req := job.Request()
	req.Provider = provider

	start := time.Now()
	res, err := w.router.Route(ctx, req)
	dur := time.Since(start)

	if err != nil {
		var engErr *ai.UnsupportedEngineError
		if errors.As(err, &engErr) {
			_ = w.q.AddDLQ(ctx, data, err.Error())
			mpkg.IncProcessed("dlq")
			return
		}
		log.Error().Err(err).Str("job_id", job.JobID).Int("index", job.Index).Msg("route failed")
		mpkg.IncProcessed("error")
		return
	}

	if res.Text == ai.ErrorMarker {
		w.breaker.Open(ctx, provider.String(), job.Engine)
		w.lim.StartCooldown(ctx, provider.String(), job.Engine)
		mpkg.BreakerOpened(provider.String(), job.Engine)
		w.saveResult(ctx, job, res, provider.String())
		_ = w.q.AddDLQ(ctx, data, "retries exhausted")
		mpkg.IncProcessed("error")
		log.Warn().
			Str("job_id", job.JobID).
			Int("index", job.Index).
			Dur("duration", dur).
			Msg("document failed after retries")
		return
	}

	w.breaker.Close(ctx, provider.String(), job.Engine)
	mpkg.BreakerClosed(provider.String(), job.Engine)
	w.lim.ClearCooldown(ctx, provider.String(), job.Engine)
	w.saveResult(ctx, job, res, provider.String())
	mpkg.IncProcessed("success")
	log.Debug().
		Str("job_id", job.JobID).
		Int("index", job.Index).
		Str("provider", provider.String()).
		Str("engine", job.Engine).
		Dur("duration", dur).
		Msg("document routed")
}

func (w *Worker) saveResult(ctx context.Context, job Job, res ai.Result, provider string) {
	if job.JobID == "" {
		return
	}
	if err := w.results.SaveResult(ctx, job.JobID, res.Index, res.Text, provider, job.Engine); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Int("index", res.Index).Msg("save result failed")
	}
	w.markProgress(ctx, job)
}

// markProgress advances the shared done counter and flips the job to success
// once every document has a stored result.
func (w *Worker) markProgress(ctx context.Context, job Job) {
	if job.Total <= 0 {
		return
	}
	key := fmt.Sprintf("job:%s:status", job.JobID)
	done, err := w.status.Client().HIncrBy(ctx, key, "done", 1).Result()
	if err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("progress update failed")
		return
	}
	progress := int(done) * 100 / job.Total
	st := store.Status{Status: "processing", Progress: progress, Message: fmt.Sprintf("%d/%d documents", done, job.Total)}
	if int(done) >= job.Total {
		now := time.Now()
		st = store.Status{Status: "success", Progress: 100, Message: "completed", End: &now}
	}
	if err := w.status.Set(ctx, job.JobID, st); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("status update failed")
	}
	if st.Status == "success" && w.arch != nil {
		w.archive(ctx, job)
	}
}

func (w *Worker) archive(ctx context.Context, job Job) {
	text, err := w.results.AggregateText(ctx, job.JobID, job.Total)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("aggregate for archive failed")
		return
	}
	meta := map[string]string{"engine": job.Engine, "job_type": job.JobType}
	if err := w.arch.ArchiveResult(ctx, job.JobID, text, meta); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("archive failed")
	}
}
