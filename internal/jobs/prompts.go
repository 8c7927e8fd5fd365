package jobs

const (
	transcriptPromptWithTimestamps = "Generate a transcript of the speech. Use timestamps in format [8m40s242ms - 8m51s12ms]"
	transcriptPromptPlain          = "Generate a transcript of the speech. Do not include timestamps. Return only the transcript text, keeping paragraph breaks where the speaker pauses."
	imageOCRPrompt                 = "OCR this image and extract all text content. Format the text to maintain original paragraphs and layout as much as possible."
	pdfOCRPrompt                   = "OCR this PDF and extract all text content. Format the text to maintain original paragraphs and layout as much as possible."
)

func transcriptPrompt(includeTimestamps bool) string {
	if includeTimestamps {
		return transcriptPromptWithTimestamps
	}
	return transcriptPromptPlain
}
