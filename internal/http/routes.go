package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/muster/internal/core"
	"github.com/target/muster/internal/dispatch"
	"github.com/target/muster/internal/fileserver"
	"github.com/target/muster/internal/mine"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Dispatcher *dispatch.Dispatcher
	Mine       *mine.Service
	Files      *fileserver.Registry

	// Optional: job history lookups. Nil disables /api/jobs listings for
	// finished jobs.
	History core.JobHistoryRepository

	Logger *slog.Logger
}

// NewRouter creates and configures the HTTP API router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Dispatcher: services.Dispatcher, History: services.History}
	mux.HandleFunc("POST /api/jobs", jobHandlers.CreateJob)
	mux.HandleFunc("GET /api/jobs", jobHandlers.ListJobs)
	mux.HandleFunc("GET /api/jobs/{jid}", jobHandlers.GetJob)

	if services.Mine != nil {
		mineHandlers := &MineHandlers{Svc: services.Mine}
		mux.HandleFunc("GET /api/mine/{fn}", mineHandlers.GetMine)
		mux.HandleFunc("DELETE /api/mine/agents/{id}", mineHandlers.FlushMine)
	}

	if services.Files != nil {
		fileHandlers := &FileHandlers{Registry: services.Files}
		mux.HandleFunc("GET /api/files", fileHandlers.ListEnvironments)
		mux.HandleFunc("GET /api/files/{env}", fileHandlers.ListFiles)
		mux.HandleFunc("GET /api/files/{env}/{path...}", fileHandlers.GetFile)
	}

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}
