// Package recognition wraps the face recognition provider used by the gateway.
package recognition

import "context"

// Face is a face found by detection.
type Face struct {
	Confidence float32
}

// IndexedFace is a face stored in a collection.
type IndexedFace struct {
	FaceID          string
	ExternalImageID string
	Confidence      float32
}

// FaceMatch is a collection face similar to a searched image.
type FaceMatch struct {
	FaceID          string
	ExternalImageID string
	Similarity      float32
	Confidence      float32
}

// Provider is the subset of a face recognition service the gateway relies on.
// Images are raw encoded bytes (JPEG or PNG).
type Provider interface {
	DetectFaces(ctx context.Context, image []byte) ([]Face, error)
	IndexFaces(ctx context.Context, collectionID string, image []byte) ([]IndexedFace, error)
	SearchFacesByImage(ctx context.Context, collectionID string, image []byte, threshold float32, maxFaces int32) ([]FaceMatch, error)
	EnsureCollection(ctx context.Context, collectionID string) error
}
