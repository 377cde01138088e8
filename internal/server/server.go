package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"leaffliction/internal/catalog"
	"leaffliction/internal/config"
	"leaffliction/internal/pipeline"
	"leaffliction/internal/storage"
	"leaffliction/internal/tasks"
	"leaffliction/internal/web"
)

// Server exposes the job pipeline over HTTP and optionally feeds it images
// dropped into watched directories.
type Server struct {
	addr        string
	store       *storage.Store
	pipeline    *pipeline.Pipeline
	watcher     *tasks.FileSystemWatcher
	watchOutput string
	hub         *web.Hub
	log         *slog.Logger
	server      *http.Server
}

// NewServer creates a server. A watcher is set up when watch lists paths.
func NewServer(addr string, store *storage.Store, pipe *pipeline.Pipeline, watch config.Watch, log *slog.Logger) (*Server, error) {
	s := &Server{
		addr:        addr,
		store:       store,
		pipeline:    pipe,
		watchOutput: watch.Output,
		hub:         web.NewHub(log),
		log:         log,
	}

	if len(watch.Paths) > 0 {
		w, err := tasks.NewFileSystemWatcher(watch.Paths, watch.Debounce.Duration, log)
		if err != nil {
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		s.watcher = w
		log.Info("watcher initialized", "paths", watch.Paths, "output", watch.Output)
	}
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmit).Methods("POST")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/transforms", s.handleTransforms).Methods("GET")
	r.HandleFunc("/distribution", s.handleDistribution).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.Handle("/ws", s.hub).Methods("GET")
	return r
}

// runBackground starts the websocket hub, the result relay and the watcher.
func (s *Server) runBackground(ctx context.Context) error {
	go s.hub.Run(ctx)

	results, unsubscribe := s.pipeline.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-results:
				if !ok {
					return
				}
				payload, err := json.Marshal(res)
				if err != nil {
					s.log.Warn("failed to encode result", "job", res.Job.ID, "error", err)
					continue
				}
				s.hub.Broadcast(payload)
			}
		}
	}()

	if s.watcher != nil {
		if err := s.watcher.Start(); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		go SubmitEvents(ctx, s.watcher.Events, s.pipeline.Submit, s.watchOutput, s.log)
	}
	return nil
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.runBackground(ctx); err != nil {
		return err
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		if s.watcher != nil {
			s.watcher.Stop()
		}
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve runs a server with optional watching until ctx is cancelled.
func Serve(ctx context.Context, addr string, watch config.Watch, store *storage.Store, pipe *pipeline.Pipeline, log *slog.Logger) error {
	srv, err := NewServer(addr, store, pipe, watch, log)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []storage.JobRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

var jobTypes = map[pipeline.JobType]bool{
	pipeline.JobTransform:    true,
	pipeline.JobAugment:      true,
	pipeline.JobBalance:      true,
	pipeline.JobDistribution: true,
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var job pipeline.Job
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		http.Error(w, "invalid job: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !jobTypes[job.Type] {
		http.Error(w, fmt.Sprintf("unknown job type: %q", job.Type), http.StatusBadRequest)
		return
	}
	if job.ID == "" {
		job.ID = string(job.Type) + "-" + uuid.NewString()
	}
	if err := s.pipeline.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

type jobDetail struct {
	storage.JobRecord
	Meta          map[string]any               `json:"meta,omitempty"`
	Augmentations []storage.AugmentationRecord `json:"augmentations,omitempty"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	detail := jobDetail{JobRecord: rec}
	// meta exists only once the job finished
	detail.Meta, _ = s.store.JobMeta(id)
	if detail.Augmentations, err = s.store.Augmentations(id); err != nil {
		s.log.Warn("failed to load augmentations", "job", id, "error", err)
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleTransforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"augmentations": catalog.Augmentations().Names(),
		"analyses":      catalog.Analyses().Names(),
	})
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	root := r.URL.Query().Get("root")
	if root == "" {
		http.Error(w, "missing root parameter", http.StatusBadRequest)
		return
	}
	counts, err := s.store.LatestDistribution(root)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(counts) == 0 {
		http.Error(w, "no distribution recorded for "+root, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(res)
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}
