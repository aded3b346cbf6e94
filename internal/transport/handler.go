package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/you-humble/imgpress/internal/domain"

	"github.com/google/uuid"
)

type Usecase interface {
	Compress(ctx context.Context, files []domain.SourceFile, quality int, async bool) ([]domain.SubmitResponse, error)
	Job(id string) (domain.JobStatusResponse, error)
	Jobs(ids []string) []domain.JobStatusResponse
	Result(id string) (domain.ResultFile, error)
	Health() domain.HealthResponse
}

type Uploads interface {
	Init(req domain.InitUploadRequest) (domain.InitUploadResponse, error)
	PutChunk(id string, index int, data []byte) (domain.ChunkResponse, error)
	Complete(id string) (domain.CompleteUploadResponse, error)
	Abort(id string) error
	Status(id string) (domain.UploadStatusResponse, error)
}

type Limits struct {
	MaxFileBytes   int64
	MaxBatchBytes  int64
	MaxChunkBytes  int64
	DefaultQuality int
}

const (
	maxJSONBody   = 1 << 20
	maxPollIDs    = 1000
	multipartSlop = 1 << 20
)

type handler struct {
	limits  Limits
	usecase Usecase
	uploads Uploads
}

func NewHandler(limits Limits, uc Usecase, uploads Uploads) *handler {
	return &handler{
		limits:  limits,
		usecase: uc,
		uploads: uploads,
	}
}

func requestLogger(r *http.Request, name string) *slog.Logger {
	return slog.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("handler", name),
		slog.String("remote_addr", r.RemoteAddr),
	)
}

func (h *handler) compress(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "compress")

	r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxBatchBytes+multipartSlop)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, logger, domain.Errorf(domain.CodeTotalSizeExceeded, "request body exceeds %d bytes", h.limits.MaxBatchBytes))
			return
		}
		logger.Warn("ParseMultipartForm", slog.String("error", err.Error()))
		writeError(w, logger, domain.Errorf(domain.CodeBadRequest, "unable to parse multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	quality := h.limits.DefaultQuality
	if q := r.FormValue("quality"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			writeError(w, logger, domain.Errorf(domain.CodeBadRequest, "quality must be an integer"))
			return
		}
		quality = n
	}
	async, _ := strconv.ParseBool(r.FormValue("async"))

	headers := r.MultipartForm.File["file"]
	correlationIDs := r.MultipartForm.Value["correlation_id"]
	resultIDs := r.MultipartForm.Value["result_id"]

	files := make([]domain.SourceFile, 0, len(headers))
	for i, fh := range headers {
		data, err := readPart(fh, h.limits.MaxFileBytes)
		if err != nil {
			logger.Error("read part", slog.String("file_name", fh.Filename), slog.String("error", err.Error()))
			writeError(w, logger, domain.Errorf(domain.CodeBadRequest, "cannot read %s", fh.Filename))
			return
		}
		files = append(files, domain.SourceFile{
			Data:          data,
			Filename:      fh.Filename,
			ContentType:   fh.Header.Get("Content-Type"),
			CorrelationID: positional(correlationIDs, i),
			ResultID:      positional(resultIDs, i),
		})
	}

	out, err := h.usecase.Compress(r.Context(), files, quality, async)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	if async {
		writeJSON(w, http.StatusAccepted, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// readPart reads at most limit+1 bytes so oversized parts are still reported
// as too large without being buffered whole.
func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit+1))
}

func positional(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

func (h *handler) job(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "job")

	resp, err := h.usecase.Job(r.PathValue("id"))
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) jobs(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "jobs")

	var req domain.BatchStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, logger, err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, logger, domain.Errorf(domain.CodeBadRequest, "ids must not be empty"))
		return
	}
	if len(req.IDs) > maxPollIDs {
		writeError(w, logger, domain.Errorf(domain.CodeBadRequest, "at most %d ids per request", maxPollIDs))
		return
	}

	writeJSON(w, http.StatusOK, h.usecase.Jobs(req.IDs))
}

func (h *handler) result(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "result")
	id := r.PathValue("id")

	f, err := h.usecase.Result(id)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", contentDisposition(f.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(f.Data); err != nil {
		logger.Error("result: send file",
			slog.String("result_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

func (h *handler) initUpload(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "initUpload")

	var req domain.InitUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, logger, err)
		return
	}
	if req.Quality == 0 {
		req.Quality = h.limits.DefaultQuality
	}

	resp, err := h.uploads.Init(req)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	if resp.Instant || resp.Resume {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handler) putChunk(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "putChunk")

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, logger, domain.Errorf(domain.CodeBadChunkIndex, "chunk index must be an integer"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxChunkBytes)
	defer r.Body.Close()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, logger, domain.Errorf(domain.CodeBadRequest, "chunk exceeds %d bytes", h.limits.MaxChunkBytes))
			return
		}
		logger.Warn("read chunk", slog.String("error", err.Error()))
		writeError(w, logger, domain.Errorf(domain.CodeBadRequest, "cannot read chunk"))
		return
	}

	resp, err := h.uploads.PutChunk(r.PathValue("id"), index, data)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) uploadStatus(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "uploadStatus")

	resp, err := h.uploads.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) completeUpload(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "completeUpload")

	resp, err := h.uploads.Complete(r.PathValue("id"))
	if err != nil {
		writeError(w, logger, err)
		return
	}

	if resp.Result != nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *handler) abortUpload(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, "abortUpload")

	if err := h.uploads.Abort(r.PathValue("id")); err != nil {
		writeError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.usecase.Health())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return domain.Errorf(domain.CodeBadRequest, "content type must be application/json")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Errorf(domain.CodeBadRequest, "invalid JSON body: %v", err)
	}
	return nil
}
