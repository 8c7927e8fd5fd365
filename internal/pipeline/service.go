package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"mediascribe/internal/apperror"
	"mediascribe/internal/media"
	"mediascribe/internal/retry"
	"mediascribe/internal/upstream/gemini"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
)

type Remote interface {
	Upload(ctx context.Context, path, mimeType string) (gemini.File, error)
	Generate(ctx context.Context, parts []gemini.Part) (string, error)
	ListFiles(ctx context.Context) ([]gemini.File, error)
	DeleteFile(ctx context.Context, name string) error
}

type Observer interface {
	IncRetry(stage string)
	ObserveRemoteCleanup(deleted, failed int)
}

type Request struct {
	Kind Kind
	// Path is the local file for audio requests.
	Path string
	// Data carries image and PDF payloads inline.
	Data     []byte
	MIMEType string
	Prompt   string
}

type Option func(*Service)

func WithUploadPolicy(p retry.Policy) Option {
	return func(s *Service) { s.uploadPolicy = p }
}

func WithGeneratePolicy(p retry.Policy) Option {
	return func(s *Service) { s.generatePolicy = p }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

type Service struct {
	remote         Remote
	logger         *slog.Logger
	observer       Observer
	uploadPolicy   retry.Policy
	generatePolicy retry.Policy
}

func New(remote Remote, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		remote:         remote,
		logger:         logger,
		uploadPolicy:   retry.Upload(),
		generatePolicy: retry.Generate(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Service) Process(ctx context.Context, req Request) (string, error) {
	switch req.Kind {
	case KindAudio:
		return s.processAudio(ctx, req)
	case KindImage, KindPDF:
		return s.processInline(ctx, req)
	default:
		return "", apperror.New(apperror.KindInput, "unsupported processing kind "+string(req.Kind))
	}
}

func (s *Service) processAudio(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Path) == "" {
		return "", apperror.New(apperror.KindInput, "audio path is required")
	}
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = media.AudioMIMEType(req.Path)
	}

	started := time.Now()
	s.logger.Info("uploading audio", "mime_type", mimeType)
	file, err := retry.Do(ctx, s.withHooks(s.uploadPolicy), func(ctx context.Context) (gemini.File, error) {
		return s.remote.Upload(ctx, req.Path, mimeType)
	})
	if err != nil {
		s.logger.Error("audio upload failed", "error", err)
		return "", apperror.Wrap(apperror.KindUploadFailed, "upload failed", err)
	}
	s.logger.Info("audio uploaded", "file", file.Name, "duration_ms", time.Since(started).Milliseconds())

	// The artifact exists remotely from here on, whatever generation does.
	defer s.cleanupRemote(context.WithoutCancel(ctx))

	parts := []gemini.Part{gemini.TextPart(req.Prompt), gemini.FilePart(file)}
	return s.generate(ctx, req.Kind, parts)
}

func (s *Service) processInline(ctx context.Context, req Request) (string, error) {
	if len(req.Data) == 0 {
		return "", apperror.New(apperror.KindInput, "payload is empty")
	}
	mimeType := req.MIMEType
	if req.Kind == KindPDF && mimeType == "" {
		mimeType = media.PDFMIMEType
	}
	if mimeType == "" {
		return "", apperror.New(apperror.KindInput, "payload mime type is required")
	}

	payload := gemini.InlinePart(req.Data, mimeType)
	parts := []gemini.Part{gemini.TextPart(req.Prompt), payload}
	if req.Kind == KindPDF {
		parts = []gemini.Part{payload, gemini.TextPart(req.Prompt)}
	}
	return s.generate(ctx, req.Kind, parts)
}

func (s *Service) generate(ctx context.Context, kind Kind, parts []gemini.Part) (string, error) {
	started := time.Now()
	text, err := retry.Do(ctx, s.withHooks(s.generatePolicy), func(ctx context.Context) (string, error) {
		return s.remote.Generate(ctx, parts)
	})
	if err != nil {
		s.logger.Error("generation failed", "kind", kind, "error", err)
		return "", apperror.Wrap(apperror.KindGenerationFailed, "generation failed", err)
	}
	s.logger.Info("generation succeeded",
		"kind", kind,
		"chars", len(text),
		"preview", preview(text),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return text, nil
}

// cleanupRemote deletes every file the credential owns. Failures are logged and
// counted, never returned.
func (s *Service) cleanupRemote(ctx context.Context) {
	files, err := s.remote.ListFiles(ctx)
	if err != nil {
		s.logger.Warn("remote cleanup: list files failed", "error", err)
		s.observeCleanup(0, 1)
		return
	}

	deleted, failed := 0, 0
	for _, f := range files {
		if err := s.remote.DeleteFile(ctx, f.Name); err != nil {
			if gemini.StatusCode(err) == http.StatusNotFound {
				s.logger.Debug("remote cleanup: file already gone", "file", f.Name)
				continue
			}
			s.logger.Warn("remote cleanup: delete failed", "file", f.Name, "error", err)
			failed++
			continue
		}
		deleted++
	}
	s.logger.Info("remote cleanup complete", "deleted", deleted, "failed", failed)
	s.observeCleanup(deleted, failed)
}

func (s *Service) withHooks(p retry.Policy) retry.Policy {
	next := p.OnRetry
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("remote call failed, retrying",
			"stage", p.Name,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		if s.observer != nil {
			s.observer.IncRetry(p.Name)
		}
		if next != nil {
			next(attempt, err, backoff)
		}
	}
	return p
}

func (s *Service) observeCleanup(deleted, failed int) {
	if s.observer != nil {
		s.observer.ObserveRemoteCleanup(deleted, failed)
	}
}

// preview cuts text to its first 100 runes for logging.
func preview(text string) string {
	const limit = 100
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit]) + "..."
}
