package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"mediascribe/internal/apperror"
	"mediascribe/internal/media"
	"mediascribe/internal/pathguard"
	"mediascribe/internal/pipeline"
	"mediascribe/internal/registry"
	"mediascribe/internal/youtube"
)

type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (string, error)
}

type Downloader interface {
	Download(ctx context.Context, url, dir string) (title string, err error)
}

type YouTubeResult struct {
	Transcript string
	Title      string
}

type Coordinator struct {
	registry   *registry.Registry
	processor  Processor
	downloader Downloader
	logger     *slog.Logger
}

func New(reg *registry.Registry, processor Processor, downloader Downloader, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry:   reg,
		processor:  processor,
		downloader: downloader,
		logger:     logger,
	}
}

// StageAudio writes an uploaded audio file under the storage root and returns
// the handle that refers to it.
func (c *Coordinator) StageAudio(r io.Reader, fileName string) (string, error) {
	if !media.IsAllowedAudioUpload(fileName) {
		return "", apperror.New(apperror.KindInput, "Unsupported file format")
	}

	f, err := os.CreateTemp(c.registry.Root(), "upload-*."+media.Extension(fileName))
	if err != nil {
		return "", apperror.Wrap(apperror.KindInternal, "create temp file", err)
	}
	path := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		c.removeFile(path)
		return "", apperror.Wrap(apperror.KindInternal, "write temp file", err)
	}
	if err := f.Close(); err != nil {
		c.removeFile(path)
		return "", apperror.Wrap(apperror.KindInternal, "close temp file", err)
	}

	handle, err := c.registry.Put(path)
	if err != nil {
		c.removeFile(path)
		return "", apperror.Wrap(apperror.KindInternal, "register temp file", err)
	}
	c.logger.Info("file staged", "file_id", handle, "file_name", fileName)
	return handle, nil
}

// Transcribe runs the staged file behind handle through the remote pipeline.
// Local state is torn down only on success so a failed request can be resubmitted.
func (c *Coordinator) Transcribe(ctx context.Context, handle string, includeTimestamps bool) (string, error) {
	path, err := c.registry.Resolve(handle)
	if err != nil {
		return "", apperror.Wrap(apperror.KindInvalidHandle, "Invalid or expired file ID", err)
	}
	if err := c.guard(path, "file_id", handle); err != nil {
		return "", err
	}

	text, err := c.processor.Process(ctx, pipeline.Request{
		Kind:   pipeline.KindAudio,
		Path:   path,
		Prompt: transcriptPrompt(includeTimestamps),
	})
	if err != nil {
		c.logger.Error("transcription failed, keeping staged file", "file_id", handle, "error", err)
		return "", err
	}

	c.removeFile(path)
	c.registry.Remove(handle)
	c.logger.Info("transcription completed", "file_id", handle, "chars", len(text))
	return text, nil
}

func (c *Coordinator) TranscribeYouTube(ctx context.Context, url string, includeTimestamps bool) (YouTubeResult, error) {
	if !youtube.ValidURL(url) {
		return YouTubeResult{}, apperror.New(apperror.KindInput, "Invalid YouTube URL")
	}

	dir, err := os.MkdirTemp(c.registry.Root(), "youtube-*")
	if err != nil {
		return YouTubeResult{}, apperror.Wrap(apperror.KindInternal, "create download directory", err)
	}
	defer c.removeDir(dir)

	title, err := c.downloader.Download(ctx, url, dir)
	if err != nil {
		return YouTubeResult{}, apperror.Wrap(apperror.KindDownloadFailed, "Failed to download YouTube audio", err)
	}

	path, err := youtube.LocateAudio(dir)
	if err != nil {
		if errors.Is(err, youtube.ErrNoAudio) {
			return YouTubeResult{}, apperror.Wrap(apperror.KindNoAudioExtracted, "No audio was extracted from the video", err)
		}
		return YouTubeResult{}, apperror.Wrap(apperror.KindInternal, "locate extracted audio", err)
	}
	if err := c.guard(path, "youtube_url", url); err != nil {
		return YouTubeResult{}, err
	}

	text, err := c.processor.Process(ctx, pipeline.Request{
		Kind:   pipeline.KindAudio,
		Path:   path,
		Prompt: transcriptPrompt(includeTimestamps),
	})
	if err != nil {
		return YouTubeResult{}, err
	}
	c.logger.Info("youtube transcription completed", "title", title, "chars", len(text))
	return YouTubeResult{Transcript: text, Title: title}, nil
}

func (c *Coordinator) OCRImage(ctx context.Context, data []byte, fileName string) (string, error) {
	mimeType, ok := media.ImageMIMEType(fileName)
	if !ok {
		return "", apperror.New(apperror.KindInput, "Unsupported file format")
	}
	return c.processor.Process(ctx, pipeline.Request{
		Kind:     pipeline.KindImage,
		Data:     data,
		MIMEType: mimeType,
		Prompt:   imageOCRPrompt,
	})
}

func (c *Coordinator) OCRPDF(ctx context.Context, data []byte) (string, error) {
	return c.processor.Process(ctx, pipeline.Request{
		Kind:     pipeline.KindPDF,
		Data:     data,
		MIMEType: media.PDFMIMEType,
		Prompt:   pdfOCRPrompt,
	})
}

func (c *Coordinator) guard(path, key, value string) error {
	if err := pathguard.Validate(path, c.registry.Root()); err != nil {
		c.logger.Warn("security violation: path outside storage root", key, value, "path", path, "error", err)
		return apperror.Wrap(apperror.KindSecurityViolation, "Access denied", err)
	}
	return nil
}

func (c *Coordinator) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("could not delete temp file", "path", path, "error", err)
	}
}

func (c *Coordinator) removeDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		c.logger.Warn("could not delete temp directory", "path", dir, "error", err)
	}
}
