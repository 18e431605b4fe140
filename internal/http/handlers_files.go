package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/target/muster/internal/fileserver"
)

// serveChunkSize bounds a single chunked read.
const serveChunkSize = 1 << 20

// FileHandlers provides HTTP handlers for serving fileserver content.
type FileHandlers struct {
	Registry *fileserver.Registry
}

// GetFile handles GET /api/files/{env}/{path...}. The whole file streams by
// default; ?offset= and ?size= read one chunk, and ?hash=1 answers with the
// checksum instead of content.
func (h *FileHandlers) GetFile(w http.ResponseWriter, r *http.Request) {
	env := r.PathValue("env")
	path := r.PathValue("path")
	if env == "" || path == "" {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("environment and path are required"),
		})
		return
	}

	handle, found, err := h.Registry.FindFile(r.Context(), path, env)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "find_failed", Err: err})
		return
	}
	if !found {
		WriteError(w, ErrorParams{
			Code: http.StatusNotFound, ErrCode: "not_found", Err: errors.New("file not found"),
		})
		return
	}

	backend, ok := h.Registry.Backend(handle.Backend)
	if !ok {
		WriteError(w, ErrorParams{
			Code: http.StatusInternalServerError, ErrCode: "backend_gone", Err: errors.New("backend not active"),
		})
		return
	}

	if r.URL.Query().Get("hash") != "" {
		sum, hashErr := backend.FileHash(r.Context(), handle)
		if hashErr != nil {
			WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "hash_failed", Err: hashErr})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"hash_type": "sha256", "hash": sum})
		return
	}

	if r.URL.Query().Has("offset") || r.URL.Query().Has("size") {
		h.serveChunk(w, r, handle)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	var offset int64
	for {
		chunk, readErr := backend.ServeChunk(r.Context(), handle, offset, serveChunkSize)
		if readErr != nil {
			// Headers may already be out; all we can do is stop.
			return
		}
		if len(chunk) == 0 {
			return
		}
		if _, writeErr := w.Write(chunk); writeErr != nil {
			return
		}
		offset += int64(len(chunk))
	}
}

func (h *FileHandlers) serveChunk(w http.ResponseWriter, r *http.Request, handle *fileserver.FileHandle) {
	backend, ok := h.Registry.Backend(handle.Backend)
	if !ok {
		WriteError(w, ErrorParams{
			Code: http.StatusInternalServerError, ErrCode: "backend_gone", Err: errors.New("backend not active"),
		})
		return
	}

	offset, err := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	if err != nil || offset < 0 {
		offset = 0
	}
	size := parseIntQuery(r, "size", serveChunkSize)
	if size <= 0 || size > serveChunkSize {
		size = serveChunkSize
	}

	chunk, err := backend.ServeChunk(r.Context(), handle, offset, size)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "read_failed", Err: err})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(chunk); err != nil {
		return
	}
}

// ListEnvironments handles GET /api/files: the environment names every
// active backend can serve.
func (h *FileHandlers) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs := h.Registry.Environments(r.Context())
	if envs == nil {
		envs = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string][]string{"environments": envs})
}

// ListFiles handles GET /api/files/{env}: every file path visible in the
// environment, unioned across backends.
func (h *FileHandlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	env := r.PathValue("env")
	if env == "" {
		WriteError(w, ErrorParams{
			Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("environment is required"),
		})
		return
	}

	var files []string
	for _, backend := range h.Registry.Backends() {
		list, err := backend.ListFiles(r.Context(), env)
		if err != nil {
			WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
			return
		}
		files = append(files, list...)
	}
	if files == nil {
		files = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string][]string{"files": files})
}
