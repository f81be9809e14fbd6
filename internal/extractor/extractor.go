// Package extractor talks to the face embedding service. The service takes
// raw image bytes and returns one fixed-dimensionality vector per detected
// face together with its bounding box.
package extractor

import (
	"context"
	"errors"

	"github.com/hradilp/face-finder/internal/store"
)

// ErrUnprocessable signals that the image content itself cannot be processed
// (corrupt file, unsupported encoding). This is a content error tied to the
// asset, not a service fault.
var ErrUnprocessable = errors.New("image cannot be processed")

// FaceObservation is one detected face in an image.
type FaceObservation struct {
	Vector []float32
	Box    store.BoundingBox
}

// Extractor computes face embeddings for image bytes. A successful call with
// zero observations means the image contains no detectable faces.
type Extractor interface {
	Extract(ctx context.Context, imageData []byte) ([]FaceObservation, error)
}
