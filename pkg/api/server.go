package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cfkarakulak/superdeploy/pkg/events"
	"github.com/cfkarakulak/superdeploy/pkg/log"
	"github.com/cfkarakulak/superdeploy/pkg/metrics"
	"github.com/cfkarakulak/superdeploy/pkg/orchestrator"
	"github.com/cfkarakulak/superdeploy/pkg/state"
	"github.com/cfkarakulak/superdeploy/pkg/types"
)

// Defaults for Config knobs left unset.
const (
	DefaultQueueSize = 64
	DefaultWorkers   = 2

	shutdownTimeout = 5 * time.Second
)

var errQueueFull = errors.New("deployment queue full")

// Config wires an API server together.
type Config struct {
	// Orchestrator executes the enqueued deployments.
	Orchestrator *orchestrator.Orchestrator

	// Store serves run and record reads.
	Store state.Store

	// Broker is the event broker the orchestrator publishes to. The
	// server journals its events and streams them to log clients.
	Broker *events.Broker

	// Token is the shared secret expected in X-Superdeploy-Token on
	// every /v1 request. Empty disables authentication.
	Token string

	// QueueSize bounds the number of accepted-but-unstarted runs. Zero
	// means DefaultQueueSize.
	QueueSize int

	// Workers is the number of goroutines executing queued runs. Zero
	// means DefaultWorkers.
	Workers int
}

// Server exposes deployments over HTTP. Deploy requests are accepted
// with 202 and handed to a worker pool; clients poll the run document
// or stream its log lines until the run reaches a terminal status.
type Server struct {
	orch    *orchestrator.Orchestrator
	store   state.Store
	broker  *events.Broker
	token   string
	workers int

	journal *runJournal
	queue   chan *deployJob
	handler http.Handler
	http    *http.Server
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// deployJob is one accepted deployment waiting for a worker.
type deployJob struct {
	project string
	opts    orchestrator.DeployOptions
}

// NewServer creates an API server from a config.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("api: Orchestrator is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("api: Store is required")
	}
	if cfg.Broker == nil {
		return nil, errors.New("api: Broker is required")
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	s := &Server{
		orch:    cfg.Orchestrator,
		store:   cfg.Store,
		broker:  cfg.Broker,
		token:   cfg.Token,
		workers: workers,
		journal: newRunJournal(defaultJournalRuns, defaultJournalEvents),
		queue:   make(chan *deployJob, queueSize),
		logger:  log.WithComponent("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/deploys", s.requireToken(s.handleDeploy))
	mux.HandleFunc("GET /v1/runs/{id}", s.requireToken(s.handleGetRun))
	mux.HandleFunc("GET /v1/runs/{id}/logs", s.requireToken(s.handleRunLogs))
	mux.HandleFunc("GET /v1/projects/{name}/status", s.requireToken(s.handleProjectStatus))
	mux.HandleFunc("GET /healthz", metrics.HealthHandler())
	mux.HandleFunc("GET /readyz", metrics.ReadyHandler())
	mux.HandleFunc("GET /livez", metrics.LivenessHandler())
	mux.Handle("GET /metrics", metrics.Handler())
	s.handler = s.instrument(mux)

	return s, nil
}

// Handler returns the configured HTTP handler for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving on addr and blocks until Stop is called or the
// listener fails.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve begins serving on an existing listener and blocks until Stop is
// called or the listener fails. Tests use it to serve on an ephemeral
// port.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.begin(ctx)

	// WriteTimeout stays zero: the log stream holds its response open
	// and manages per-line deadlines in handleRunLogs.
	s.http = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP API listening")
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the server: the listener shuts down, in-flight
// runs get their context canceled, and runs still waiting in the queue
// are marked canceled so they do not read as pending forever.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.http != nil {
		sctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		err = s.http.Shutdown(sctx)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.drainQueue()
	return err
}

// begin launches the journal collector and the deploy workers.
func (s *Server) begin(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.collectEvents()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.deployWorker(i)
	}
}

// collectEvents feeds the replay journal from the broker.
func (s *Server) collectEvents() {
	defer s.wg.Done()

	sub := s.broker.Subscribe("")
	defer s.broker.Unsubscribe(sub)

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			s.journal.append(ev)
		case <-s.ctx.Done():
			return
		}
	}
}

// deployWorker executes queued runs one at a time.
func (s *Server) deployWorker(id int) {
	defer s.wg.Done()

	logger := s.logger.With().Int("worker", id).Logger()
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.queue:
			metrics.QueueDepth.Set(float64(len(s.queue)))
			run, err := s.orch.Deploy(s.ctx, job.project, job.opts)
			if err != nil {
				logger.Error().Err(err).
					Str("project", job.project).
					Str("run_id", job.opts.RunID).
					Msg("Queued deployment aborted")
				continue
			}
			logger.Info().
				Str("project", job.project).
				Str("run_id", run.ID).
				Str("status", string(run.Status)).
				Msg("Queued deployment finished")
		}
	}
}

// enqueueDeploy persists a pending run and hands it to the worker
// pool. Never blocks: a full queue fails the run immediately.
func (s *Server) enqueueDeploy(project string, opts orchestrator.DeployOptions) (*types.Run, error) {
	run := &types.Run{
		ID:          uuid.New().String(),
		Project:     project,
		Environment: opts.Environment,
		Version:     opts.Version,
		Trigger:     opts.Trigger,
		Status:      types.RunPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.SaveRun(run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	opts.RunID = run.ID
	select {
	case s.queue <- &deployJob{project: project, opts: opts}:
		metrics.QueueDepth.Set(float64(len(s.queue)))
	default:
		run.Status = types.RunFailed
		run.Error = errQueueFull.Error()
		run.StartedAt = run.CreatedAt
		run.FinishedAt = time.Now().UTC()
		if err := s.store.SaveRun(run); err != nil {
			s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Saving rejected run failed")
		}
		return nil, errQueueFull
	}

	s.broker.Publish(&events.Event{
		Type:    events.EventRunQueued,
		RunID:   run.ID,
		Project: project,
	})
	s.logger.Info().
		Str("project", project).
		Str("run_id", run.ID).
		Str("trigger", string(opts.Trigger)).
		Msg("Deployment enqueued")
	return run, nil
}

// drainQueue marks runs that never reached a worker as canceled.
func (s *Server) drainQueue() {
	for {
		select {
		case job := <-s.queue:
			run, err := s.store.GetRun(job.opts.RunID)
			if err != nil {
				continue
			}
			run.Status = types.RunCanceled
			run.Error = "server shut down before execution"
			run.StartedAt = run.CreatedAt
			run.FinishedAt = time.Now().UTC()
			if err := s.store.SaveRun(run); err != nil {
				s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Saving drained run failed")
			}
		default:
			metrics.QueueDepth.Set(0)
			return
		}
	}
}

// requireToken guards a handler with the shared-secret header.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got := r.Header.Get("X-Superdeploy-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
				s.writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next(w, r)
	}
}

// instrument wraps the mux with request counting and timing.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status for metrics. Unwrap lets
// http.ResponseController reach the underlying writer, which the log
// stream needs for flushing and write deadlines.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
