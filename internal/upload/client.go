package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Result is what callers get back from the upload collaborator. Any failure
// is soft: Error is set and URL stays empty, never a transport error for the
// messaging protocol.
type Result struct {
	URL     string `json:"url,omitempty"`
	Error   bool   `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client posts files to an unsigned-upload object-storage endpoint and
// returns the hosted URL.
type Client struct {
	endpoint   string
	preset     string
	httpClient *http.Client
}

// NewClient constructs an upload client for the given endpoint and preset.
func NewClient(endpoint, preset string) *Client {
	return &Client{
		endpoint:   endpoint,
		preset:     preset,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload streams the file as multipart form data. Failures come back inside
// the Result, not as an error.
func (c *Client) Upload(ctx context.Context, filename string, file io.Reader) Result {
	if c.endpoint == "" {
		return softFailure("upload endpoint not configured")
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		part, err := form.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := form.WriteField("upload_preset", c.preset); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, pr)
	if err != nil {
		return softFailure(err.Error())
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return softFailure(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return softFailure(fmt.Sprintf("upload failed with status %d", resp.StatusCode))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return softFailure(err.Error())
	}
	if result.URL == "" {
		return softFailure("invalid response from upload endpoint")
	}
	return result
}

func softFailure(message string) Result {
	return Result{Error: true, Message: message}
}
