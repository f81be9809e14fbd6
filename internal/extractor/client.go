package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/hradilp/face-finder/internal/store"
)

const defaultExtractorURL = "http://localhost:8000"

// Client computes face embeddings using the embedding server
type Client struct {
	baseURL string
	dim     int
	client  *http.Client
}

// NewClient creates a new extractor client. dim is the expected vector
// dimensionality; responses with a different dimension are rejected.
func NewClient(baseURL string, dim int) *Client {
	if baseURL == "" {
		baseURL = defaultExtractorURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// faceDetection represents a single detected face in the service response
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [top, right, bottom, left]
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Extract posts the image to the embedding server and returns one observation
// per detected face. Images the service rejects as unreadable map to
// ErrUnprocessable.
func (c *Client) Extract(ctx context.Context, imageData []byte) ([]FaceObservation, error) {
	// Large originals slow down detection without improving it. Downscale
	// before shipping bytes over the wire.
	prepared, err := PrepareImage(imageData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprocessable, err)
	}

	body, err := c.postMultipartImage(ctx, "/embed/faces", prepared)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	observations := make([]FaceObservation, 0, len(resp.Faces))
	for _, face := range resp.Faces {
		if c.dim > 0 && len(face.Embedding) != c.dim {
			return nil, fmt.Errorf("face %d: expected %d dimensions, got %d",
				face.FaceIndex, c.dim, len(face.Embedding))
		}
		observations = append(observations, FaceObservation{
			Vector: face.Embedding,
			Box:    store.BoxFromArray(face.BBox),
		})
	}
	return observations, nil
}

// postMultipartImage constructs a multipart form with the image data and
// posts it to the given endpoint. The part carries an explicit Content-Type
// based on magic byte detection.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	mimeType := detectMIMEType(imageData)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusUnsupportedMediaType {
		return nil, fmt.Errorf("%w: service rejected image (status %d): %s",
			ErrUnprocessable, resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	return "application/octet-stream"
}

// Verify interface compliance
var _ Extractor = (*Client)(nil)
