package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

type ObserverFunc func(operation string, status int, duration time.Duration)

type Option func(*Client)

// File is a blob held by the remote service.
type File struct {
	Name     string
	URI      string
	MIMEType string
}

// Part is one element of a generation request: text, a reference to an
// uploaded File, or inline bytes.
type Part struct {
	Text     string
	FileURI  string
	MIMEType string
	Data     []byte
}

func TextPart(text string) Part { return Part{Text: text} }

func FilePart(f File) Part { return Part{FileURI: f.URI, MIMEType: f.MIMEType} }

func InlinePart(data []byte, mimeType string) Part { return Part{Data: data, MIMEType: mimeType} }

type Client struct {
	client   *genai.Client
	model    string
	observer ObserverFunc
}

func WithObserver(observer ObserverFunc) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func New(client *genai.Client, model string, opts ...Option) *Client {
	c := &Client{
		client: client,
		model:  strings.TrimSpace(model),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// NewGenAIClient builds the SDK client for the Gemini API backend.
func NewGenAIClient(ctx context.Context, apiKey, baseURL string, httpClient *http.Client) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:     strings.TrimSpace(apiKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	return genai.NewClient(ctx, cfg)
}

func (c *Client) Upload(ctx context.Context, path, mimeType string) (file File, err error) {
	started := time.Now()
	defer func() { c.observe("files_upload", err, time.Since(started)) }()

	uploaded, err := c.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return File{}, err
	}
	if uploaded == nil {
		return File{}, errors.New("upload returned no file")
	}
	f := fromGenAI(uploaded)
	if f.MIMEType == "" {
		f.MIMEType = mimeType
	}
	return f, nil
}

func (c *Client) Generate(ctx context.Context, parts []Part) (text string, err error) {
	started := time.Now()
	defer func() { c.observe("generate_content", err, time.Since(started)) }()

	contents := []*genai.Content{genai.NewContentFromParts(toGenAIParts(parts), genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("empty generation response")
	}
	return text, nil
}

func (c *Client) ListFiles(ctx context.Context) (files []File, err error) {
	started := time.Now()
	defer func() { c.observe("files_list", err, time.Since(started)) }()

	for f, iterErr := range c.client.Files.All(ctx) {
		if iterErr != nil {
			return files, fmt.Errorf("list files: %w", iterErr)
		}
		files = append(files, fromGenAI(f))
	}
	return files, nil
}

func (c *Client) DeleteFile(ctx context.Context, name string) (err error) {
	started := time.Now()
	defer func() { c.observe("files_delete", err, time.Since(started)) }()

	_, err = c.client.Files.Delete(ctx, name, nil)
	return err
}

func (c *Client) observe(operation string, err error, duration time.Duration) {
	if c.observer != nil {
		c.observer(operation, StatusCode(err), duration)
	}
}

// StatusCode extracts the HTTP status behind an SDK error: 200 for nil, 0 when
// the error did not come from an HTTP response.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}

func toGenAIParts(parts []Part) []*genai.Part {
	out := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.FileURI != "":
			out = append(out, genai.NewPartFromURI(p.FileURI, p.MIMEType))
		case len(p.Data) > 0:
			out = append(out, genai.NewPartFromBytes(p.Data, p.MIMEType))
		case p.Text != "":
			out = append(out, genai.NewPartFromText(p.Text))
		}
	}
	return out
}

func fromGenAI(f *genai.File) File {
	if f == nil {
		return File{}
	}
	return File{Name: f.Name, URI: f.URI, MIMEType: f.MIMEType}
}
