package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// OCRClient talks to an external OCR HTTP service that accepts a page
// image and returns recognized text.
type OCRClient struct {
	url    string
	client *http.Client
}

// NewOCRClient creates a client for the OCR service at url. A zero
// timeout defaults to 30s per page.
func NewOCRClient(url string, timeout time.Duration) *OCRClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OCRClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type ocrResponse struct {
	Text string `json:"text"`
}

// Recognize submits one page image and returns the recognized text.
func (c *OCRClient) Recognize(ctx context.Context, image []byte, fileType string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "page."+fileType)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(image); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("ocr service returned %d: %s", resp.StatusCode, body)
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	return out.Text, nil
}
