// Package api uploads finished run recordings to a recordings server.
package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// UploadMetadata describes a recording to the server.
type UploadMetadata struct {
	RunID    string
	RunName  string
	Duration float64 // seconds
	Tag      string
}

// Client handles communication with the recordings server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the recordings server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Upload sends an exported recording file to the server as a multipart form.
func (c *Client) Upload(ctx context.Context, filePath string, meta UploadMetadata) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	// the form is streamed while the request is sent
	errCh := make(chan error, 1)
	go func() {
		var werr error
		defer func() {
			if werr == nil {
				werr = writer.Close()
			}
			pw.CloseWithError(werr)
			errCh <- werr
		}()

		fields := [][2]string{
			{"secret", c.apiKey},
			{"filename", filepath.Base(filePath)},
			{"runId", meta.RunID},
			{"runName", meta.RunName},
			{"duration", strconv.FormatFloat(meta.Duration, 'f', 3, 64)},
			{"tag", meta.Tag},
		}
		for _, f := range fields {
			if werr = writer.WriteField(f[0], f[1]); werr != nil {
				return
			}
		}

		part, err := writer.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			werr = fmt.Errorf("failed to create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			werr = fmt.Errorf("failed to copy file: %w", err)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/runs/upload", pr)
	if err != nil {
		pr.Close()
		<-errCh
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.Close()
		<-errCh
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return writeErr
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload returned status %d", resp.StatusCode)
	}
	return nil
}
