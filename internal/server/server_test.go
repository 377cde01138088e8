package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"leaffliction/internal/config"
	"leaffliction/internal/pipeline"
	"leaffliction/internal/storage"
	"leaffliction/internal/tasks"
)

type echoProcessor struct{}

func (echoProcessor) Process(_ context.Context, job pipeline.Job) pipeline.Result {
	return pipeline.Result{Job: job, Meta: map[string]any{"input": job.InputPath}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pipe := pipeline.NewWithProcessor(context.Background(), discardLogger(), store, echoProcessor{})
	t.Cleanup(pipe.Stop)

	srv, err := NewServer(":0", store, pipe, config.Watch{}, discardLogger())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, store
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestSubmitAndFetchJob(t *testing.T) {
	srv, store := newTestServer(t)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/jobs", strings.NewReader(`{"type":"distribution","input":"/data"}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var job pipeline.Job
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(job.ID, "distribution-") {
		t.Fatalf("expected generated id, got %q", job.ID)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := store.Job(job.ID)
		if _, merr := store.JobMeta(job.ID); err == nil && merr == nil && got.Status == "completed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed: %+v (%v)", got, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/"+job.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var detail map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	meta, _ := detail["meta"].(map[string]any)
	if detail["status"] != "completed" || meta["input"] != "/data" {
		t.Fatalf("unexpected detail %v", detail)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs", nil))
	var list []storage.JobRecord
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil || len(list) != 1 {
		t.Fatalf("unexpected job list %+v (%v)", list, err)
	}
}

func TestSubmitRejectsBadJobs(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	for _, body := range []string{`{"type":"align"}`, `not json`, `{"type":"augment","colour":"red"}`} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/jobs", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestUnknownJobIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTransformsListing(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/transforms", nil))
	var got map[string][]string
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got["augmentations"]) != 6 || len(got["analyses"]) != 5 {
		t.Fatalf("unexpected listing %v", got)
	}
	if got["augmentations"][0] != "Flip" {
		t.Fatalf("expected catalog order, got %v", got["augmentations"])
	}
}

func TestDistributionEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/distribution?root=/data", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any snapshot, got %d", rec.Code)
	}

	if err := store.RecordDistribution("d", "/data", []storage.ClassCountRecord{{Class: "Apple_rust", Count: 5, Percent: 100}}); err != nil {
		t.Fatalf("record: %v", err)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/distribution?root=/data", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Apple_rust") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestStreamDeliversResults(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()

	if err := srv.pipeline.Submit(pipeline.Job{ID: "s-1", Type: pipeline.JobDistribution, InputPath: "/x"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, `"s-1"`) {
		t.Fatalf("unexpected event %q", line)
	}
}

func TestWebsocketReceivesResults(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.runBackground(ctx); err != nil {
		t.Fatalf("background: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for srv.hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := srv.pipeline.Submit(pipeline.Job{ID: "ws-1", Type: pipeline.JobDistribution}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var res struct {
		Job pipeline.Job `json:"job"`
	}
	if err := json.Unmarshal(msg, &res); err != nil || res.Job.ID != "ws-1" {
		t.Fatalf("unexpected message %s (%v)", msg, err)
	}
}

func TestSubmitEventsSkipsDerivedImages(t *testing.T) {
	events := make(chan tasks.FileSystemEvent, 3)
	events <- tasks.FileSystemEvent{Path: "/in/leaf.jpg", Operation: "created"}
	events <- tasks.FileSystemEvent{Path: "/in/leaf_Mask.jpg", Operation: "created"}
	events <- tasks.FileSystemEvent{Path: "/in/bad.jpg", Operation: "created"}
	close(events)

	var jobs []pipeline.Job
	submit := func(job pipeline.Job) error {
		jobs = append(jobs, job)
		if job.InputPath == "/in/bad.jpg" {
			return errors.New("queue full")
		}
		return nil
	}
	SubmitEvents(context.Background(), events, submit, "/out", discardLogger())

	if len(jobs) != 2 {
		t.Fatalf("expected derived image skipped, got %+v", jobs)
	}
	if jobs[0].Type != pipeline.JobTransform || jobs[0].Output != "/out" || jobs[0].InputPath != "/in/leaf.jpg" {
		t.Fatalf("unexpected job %+v", jobs[0])
	}
}
