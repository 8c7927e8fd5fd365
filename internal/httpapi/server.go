package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"mediascribe/internal/apperror"
	"mediascribe/internal/config"
	"mediascribe/internal/jobs"
	"mediascribe/internal/media"
	"mediascribe/internal/model"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type JobService interface {
	StageAudio(r io.Reader, fileName string) (string, error)
	Transcribe(ctx context.Context, handle string, includeTimestamps bool) (string, error)
	TranscribeYouTube(ctx context.Context, url string, includeTimestamps bool) (jobs.YouTubeResult, error)
	OCRImage(ctx context.Context, data []byte, fileName string) (string, error)
	OCRPDF(ctx context.Context, data []byte) (string, error)
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
}

type Dependencies struct {
	Jobs           JobService
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	jobs         JobService
	metrics      MetricsObserver
	metricsRoute http.Handler
}

type ctxKey string

const (
	requestIDHeader  = "X-Request-Id"
	requestIDContext = ctxKey("request_id")
	maxJSONBodyBytes = 1 << 20
	// multipartOverhead leaves room for boundaries and headers above the file limit.
	multipartOverhead = 1 << 20
)

// fileRule describes one multipart upload endpoint.
type fileRule struct {
	field    string
	maxBytes int64
	allowed  func(name string) bool
}

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Jobs == nil {
		panic("httpapi: job service is required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		jobs:         deps.Jobs,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.handleHealthz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	r.Post("/upload", s.handleUpload)
	r.Post("/transcribe", s.handleTranscribe)
	r.Post("/transcribe_youtube", s.handleTranscribeYouTube)
	r.Post("/ocr_image", s.handleOCRImage)
	r.Post("/ocr_pdf", s.handleOCRPDF)

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, form, ok := s.readMultipartFile(w, r, fileRule{
		field:    "audio",
		maxBytes: s.cfg.MaxAudioUploadBytes,
		allowed:  media.IsAllowedAudioUpload,
	})
	if !ok {
		return
	}
	defer cleanupMultipartForm(form)
	defer func() { _ = file.Close() }()

	handle, err := s.jobs.StageAudio(file, header.Filename)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	s.logger.Info("file uploaded", "request_id", requestIDFromContext(r.Context()), "file_name", header.Filename, "size", header.Size)
	writeJSON(w, http.StatusOK, model.UploadResponse{Success: true, FileID: handle})
}

func (s *server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req model.TranscribeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	fileID := strings.TrimSpace(req.FileID)
	if fileID == "" {
		s.writeError(w, r, http.StatusBadRequest, "No file ID provided")
		return
	}

	s.clearDeadlines(w, r)
	includeTimestamps := boolOrDefault(req.IncludeTimestamps, true)
	s.logger.Info("transcription requested", "request_id", requestIDFromContext(r.Context()), "file_id", fileID, "include_timestamps", includeTimestamps)

	transcript, err := s.jobs.Transcribe(r.Context(), fileID, includeTimestamps)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.TranscribeResponse{Transcript: transcript})
}

func (s *server) handleTranscribeYouTube(w http.ResponseWriter, r *http.Request) {
	var req model.TranscribeYouTubeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	url := strings.TrimSpace(req.YouTubeURL)
	if url == "" {
		s.writeError(w, r, http.StatusBadRequest, "No YouTube URL provided")
		return
	}

	s.clearDeadlines(w, r)
	result, err := s.jobs.TranscribeYouTube(r.Context(), url, boolOrDefault(req.IncludeTimestamps, true))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.TranscribeYouTubeResponse{Transcript: result.Transcript, Title: result.Title})
}

func (s *server) handleOCRImage(w http.ResponseWriter, r *http.Request) {
	data, name, ok := s.readDocument(w, r, fileRule{
		field:    "image",
		maxBytes: s.cfg.MaxDocumentUploadBytes,
		allowed:  media.IsAllowedImage,
	})
	if !ok {
		return
	}
	s.clearDeadlines(w, r)
	text, err := s.jobs.OCRImage(r.Context(), data, name)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.OCRResponse{Text: text})
}

func (s *server) handleOCRPDF(w http.ResponseWriter, r *http.Request) {
	data, _, ok := s.readDocument(w, r, fileRule{
		field:    "pdf",
		maxBytes: s.cfg.MaxDocumentUploadBytes,
		allowed:  media.IsPDF,
	})
	if !ok {
		return
	}
	s.clearDeadlines(w, r)
	text, err := s.jobs.OCRPDF(r.Context(), data)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.OCRResponse{Text: text})
}

// clearDeadlines lifts the connection read and write deadlines for requests
// bounded by the retry budgets instead. A deadline firing mid-job would drop
// the response after the job already consumed its handle.
func (s *server) clearDeadlines(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("clear read deadline", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("clear write deadline", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
}

func (s *server) readDocument(w http.ResponseWriter, r *http.Request, rule fileRule) ([]byte, string, bool) {
	file, header, form, ok := s.readMultipartFile(w, r, rule)
	if !ok {
		return nil, "", false
	}
	defer cleanupMultipartForm(form)
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, fmt.Sprintf("read uploaded file: %v", err))
		return nil, "", false
	}
	return data, header.Filename, true
}

// readMultipartFile parses the form and applies the rule. On failure it has
// already written the response.
func (s *server) readMultipartFile(w http.ResponseWriter, r *http.Request, rule fileRule) (multipart.File, *multipart.FileHeader, *multipart.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, rule.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(minInt64(rule.maxBytes, 8<<20)); err != nil {
		cleanupMultipartForm(r.MultipartForm)
		s.handleMultipartReadError(w, r, rule, err)
		return nil, nil, nil, false
	}
	file, header, err := r.FormFile(rule.field)
	if err != nil {
		// An empty filename without a Content-Type is parsed as a plain value.
		if errors.Is(err, http.ErrMissingFile) && r.MultipartForm != nil && len(r.MultipartForm.Value[rule.field]) > 0 {
			cleanupMultipartForm(r.MultipartForm)
			s.writeError(w, r, http.StatusBadRequest, "No selected file")
			return nil, nil, nil, false
		}
		cleanupMultipartForm(r.MultipartForm)
		s.handleMultipartReadError(w, r, rule, err)
		return nil, nil, nil, false
	}

	reject := func(message string) {
		_ = file.Close()
		cleanupMultipartForm(r.MultipartForm)
		s.writeError(w, r, http.StatusBadRequest, message)
	}
	if header.Filename == "" {
		reject("No selected file")
		return nil, nil, nil, false
	}
	if !rule.allowed(header.Filename) {
		reject("Unsupported file format")
		return nil, nil, nil, false
	}
	if header.Size > rule.maxBytes {
		s.logger.Warn("file too large", "file_name", header.Filename, "size_mb", megabytes(header.Size))
		reject(fmt.Sprintf("File too large. Maximum size is %dMB. Your file is %sMB.", rule.maxBytes>>20, megabytes(header.Size)))
		return nil, nil, nil, false
	}
	return file, header, r.MultipartForm, true
}

func (s *server) handleMultipartReadError(w http.ResponseWriter, r *http.Request, rule fileRule, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("File too large. Maximum size is %dMB.", rule.maxBytes>>20))
	case errors.Is(err, http.ErrMissingFile):
		s.writeError(w, r, http.StatusBadRequest, "No file part")
	default:
		s.writeError(w, r, http.StatusBadRequest, "Invalid multipart form data")
	}
}

func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() { _ = r.Body.Close() }()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return false
	}
	if err := ensureBodyFullyConsumed(decoder); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return false
	}
	return true
}

func (s *server) handleJSONDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusBadRequest, "JSON body too large")
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "Invalid JSON body")
}

func (s *server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.HTTPStatus(err)
	kind := apperror.KindOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", requestIDFromContext(r.Context()), "kind", kind, "error", err)
	} else {
		s.logger.Info("request rejected", "request_id", requestIDFromContext(r.Context()), "kind", kind, "error", err)
	}
	s.writeError(w, r, status, apperror.Message(err))
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if rid := requestIDFromContext(r.Context()); rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{Error: message})
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = newRequestID()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContext, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", requestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func ensureBodyFullyConsumed(decoder *json.Decoder) error {
	var extra any
	if err := decoder.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple JSON values")
		}
		return err
	}
	return nil
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func cleanupMultipartForm(form *multipart.Form) {
	if form != nil {
		_ = form.RemoveAll()
	}
}

func requestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDContext).(string)
	return value
}

func newRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func megabytes(n int64) string {
	return fmt.Sprintf("%.2f", float64(n)/1024/1024)
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
