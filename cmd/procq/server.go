package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// queueStats is the subset of a queue the HTTP endpoints report on.
type queueStats interface {
	Name() string
	Size() int
	TasksCount() int
	Processed() uint64
	Done() <-chan struct{}
}

type statsResponse struct {
	Queue     string `json:"queue"`
	Size      int    `json:"size"`
	Callbacks int    `json:"callbacks"`
	Processed uint64 `json:"processed"`
	Running   bool   `json:"running"`
}

func newRouter(q queueStats, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		running := true
		select {
		case <-q.Done():
			running = false
		default:
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statsResponse{
			Queue:     q.Name(),
			Size:      q.Size(),
			Callbacks: q.TasksCount(),
			Processed: q.Processed(),
			Running:   running,
		})
	})

	return r
}
