// Package youtube extracts audio from YouTube videos with the external yt-dlp
// tool and locates the resulting artifact.
package youtube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

var ErrNoAudio = errors.New("no audio file was extracted")

// audioExtensions is the preference order when the download directory holds
// more than one candidate.
var audioExtensions = []string{".m4a", ".mp3", ".webm", ".opus", ".ogg"}

var urlPattern = regexp.MustCompile(`^(https?://)?(www\.|m\.)?(youtube\.com/watch\?(.*&)?v=[A-Za-z0-9_-]{11}|youtu\.be/[A-Za-z0-9_-]{11})`)

func ValidURL(raw string) bool {
	return urlPattern.MatchString(strings.TrimSpace(raw))
}

type Downloader struct {
	binary string
	logger *slog.Logger
}

func NewDownloader(binary string, logger *slog.Logger) *Downloader {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{binary: binary, logger: logger}
}

// Download extracts the best audio stream of url into dir and returns the
// video title.
func (d *Downloader) Download(ctx context.Context, url, dir string) (string, error) {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"-f", "bestaudio/best",
		"--no-simulate",
		"--print", "title",
		"-o", filepath.Join(dir, "audio.%(ext)s"),
		url,
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.logger.Info("downloading youtube audio", "url", url)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", d.binary, err, truncate(stderr.String()))
	}

	title, _, _ := strings.Cut(strings.TrimSpace(stdout.String()), "\n")
	return strings.TrimSpace(title), nil
}

// LocateAudio picks the extracted audio file in dir: the first match in
// extension preference order, else any regular file.
func LocateAudio(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read download dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return "", ErrNoAudio
	}

	for _, ext := range audioExtensions {
		for _, name := range files {
			if strings.EqualFold(filepath.Ext(name), ext) {
				return filepath.Join(dir, name), nil
			}
		}
	}
	return filepath.Join(dir, files[0]), nil
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 2048 {
		return s
	}
	return s[len(s)-2048:]
}
