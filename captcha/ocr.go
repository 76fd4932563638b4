package captcha

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OCRClient talks to an OCR sidecar service (a ddddocr HTTP wrapper in the
// reference deployment). The image is posted as base64 JSON; the service
// answers with the recognized text.
type OCRClient struct {
	endpoint string
	client   *http.Client
}

type ocrRequest struct {
	Image string `json:"image"`
}

type ocrResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
	Message string `json:"message"`
}

// NewOCRClient builds a client for the OCR service at endpoint.
func NewOCRClient(endpoint string) *OCRClient {
	return &OCRClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Recognize submits the image and returns the service's text answer.
func (c *OCRClient) Recognize(image []byte) (string, error) {
	body, err := json.Marshal(ocrRequest{Image: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error calling OCR service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("OCR service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("error decoding OCR response: %w", err)
	}
	if !parsed.Success || parsed.Result == "" {
		return "", fmt.Errorf("OCR service could not recognize the image: %s", parsed.Message)
	}
	return parsed.Result, nil
}
