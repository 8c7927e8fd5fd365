package media

import (
	"path/filepath"
	"strings"
)

const (
	DefaultAudioMIMEType = "audio/mpeg"
	PDFMIMEType          = "application/pdf"
)

var audioUploadExtensions = map[string]struct{}{
	"wav": {}, "mp3": {}, "aiff": {}, "aac": {}, "ogg": {}, "flac": {},
}

var audioMIMETypes = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"aiff": "audio/aiff",
	"aac":  "audio/aac",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
	// yt-dlp outputs
	"m4a":  "audio/mp4",
	"webm": "audio/webm",
	"opus": "audio/ogg",
}

var imageMIMETypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"heic": "image/heic",
	"heif": "image/heif",
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func IsAllowedAudioUpload(name string) bool {
	_, ok := audioUploadExtensions[Extension(name)]
	return ok
}

func IsAllowedImage(name string) bool {
	_, ok := imageMIMETypes[Extension(name)]
	return ok
}

func IsPDF(name string) bool {
	return Extension(name) == "pdf"
}

// AudioMIMEType maps a file path to the content-type hint sent with an audio
// upload. Unknown extensions fall back to audio/mpeg.
func AudioMIMEType(path string) string {
	if mimeType, ok := audioMIMETypes[Extension(path)]; ok {
		return mimeType
	}
	return DefaultAudioMIMEType
}

func ImageMIMEType(name string) (string, bool) {
	mimeType, ok := imageMIMETypes[Extension(name)]
	return mimeType, ok
}
