package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusByKind(t *testing.T) {
	cases := map[Kind]int{
		KindInput:             http.StatusBadRequest,
		KindInvalidHandle:     http.StatusBadRequest,
		KindSecurityViolation: http.StatusBadRequest,
		KindUploadFailed:      http.StatusInternalServerError,
		KindGenerationFailed:  http.StatusInternalServerError,
		KindNoAudioExtracted:  http.StatusInternalServerError,
		KindDownloadFailed:    http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(New(kind, "x")); got != want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
	if got := HTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("plain error status = %d", got)
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("transcribe: %w", Wrap(KindUploadFailed, "upload failed", cause))

	if !Is(err, KindUploadFailed) {
		t.Fatalf("expected upload_failed, got %s", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if err.Error() != "transcribe: upload failed: connection reset" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestMessageHidesCauseForClientFaults(t *testing.T) {
	handleErr := Wrap(KindInvalidHandle, "Invalid or expired file ID", errors.New("handle not found"))
	if got := Message(handleErr); got != "Invalid or expired file ID" {
		t.Fatalf("unexpected client message: %q", got)
	}
	uploadErr := Wrap(KindUploadFailed, "upload failed", errors.New("503 unavailable"))
	if got := Message(uploadErr); got != "upload failed: 503 unavailable" {
		t.Fatalf("unexpected server message: %q", got)
	}
	if got := Message(errors.New("boom")); got != "boom" {
		t.Fatalf("unexpected plain message: %q", got)
	}
}
