package model

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type UploadResponse struct {
	Success bool   `json:"success"`
	FileID  string `json:"file_id"`
}

type TranscribeRequest struct {
	FileID string `json:"file_id"`
	// IncludeTimestamps defaults to true when omitted.
	IncludeTimestamps *bool `json:"include_timestamps,omitempty"`
}

type TranscribeResponse struct {
	Transcript string `json:"transcript"`
}

type TranscribeYouTubeRequest struct {
	YouTubeURL        string `json:"youtube_url"`
	IncludeTimestamps *bool  `json:"include_timestamps,omitempty"`
}

type TranscribeYouTubeResponse struct {
	Transcript string `json:"transcript"`
	Title      string `json:"title"`
}

type OCRResponse struct {
	Text string `json:"text"`
}
