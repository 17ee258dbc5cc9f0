package recognition

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"
)

// API is the part of the Rekognition client used here.
type API interface {
	DetectFaces(ctx context.Context, in *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
	IndexFaces(ctx context.Context, in *rekognition.IndexFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.IndexFacesOutput, error)
	SearchFacesByImage(ctx context.Context, in *rekognition.SearchFacesByImageInput, optFns ...func(*rekognition.Options)) (*rekognition.SearchFacesByImageOutput, error)
	CreateCollection(ctx context.Context, in *rekognition.CreateCollectionInput, optFns ...func(*rekognition.Options)) (*rekognition.CreateCollectionOutput, error)
}

var _ API = (*rekognition.Client)(nil)

// Rekognition implements Provider on AWS Rekognition.
type Rekognition struct {
	api    API
	logger *zap.Logger
}

var _ Provider = (*Rekognition)(nil)

// NewRekognition wraps an existing client.
func NewRekognition(api API, logger *zap.Logger) *Rekognition {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rekognition{api: api, logger: logger.Named("rekognition")}
}

// LoadRekognition builds a client from the default AWS credential chain.
func LoadRekognition(ctx context.Context, region string, logger *zap.Logger) (*Rekognition, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewRekognition(rekognition.NewFromConfig(cfg), logger), nil
}

// DetectFaces returns every face detected in image.
func (r *Rekognition) DetectFaces(ctx context.Context, image []byte) ([]Face, error) {
	out, err := r.api.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: image},
		Attributes: []types.Attribute{types.AttributeAll},
	})
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	faces := make([]Face, 0, len(out.FaceDetails))
	for _, d := range out.FaceDetails {
		faces = append(faces, Face{Confidence: aws.ToFloat32(d.Confidence)})
	}
	return faces, nil
}

// IndexFaces adds the faces in image to the collection.
func (r *Rekognition) IndexFaces(ctx context.Context, collectionID string, image []byte) ([]IndexedFace, error) {
	out, err := r.api.IndexFaces(ctx, &rekognition.IndexFacesInput{
		CollectionId:        aws.String(collectionID),
		Image:               &types.Image{Bytes: image},
		DetectionAttributes: []types.Attribute{types.AttributeAll},
	})
	if err != nil {
		return nil, fmt.Errorf("index faces: %w", err)
	}
	if n := len(out.UnindexedFaces); n > 0 {
		r.logger.Debug("faces not indexed", zap.String("collection_id", collectionID), zap.Int("count", n))
	}
	faces := make([]IndexedFace, 0, len(out.FaceRecords))
	for _, rec := range out.FaceRecords {
		if rec.Face == nil {
			continue
		}
		faces = append(faces, IndexedFace{
			FaceID:          aws.ToString(rec.Face.FaceId),
			ExternalImageID: aws.ToString(rec.Face.ExternalImageId),
			Confidence:      aws.ToFloat32(rec.Face.Confidence),
		})
	}
	return faces, nil
}

// SearchFacesByImage looks up the largest face in image within the
// collection, returning at most maxFaces matches at or above threshold.
func (r *Rekognition) SearchFacesByImage(ctx context.Context, collectionID string, image []byte, threshold float32, maxFaces int32) ([]FaceMatch, error) {
	out, err := r.api.SearchFacesByImage(ctx, &rekognition.SearchFacesByImageInput{
		CollectionId:       aws.String(collectionID),
		Image:              &types.Image{Bytes: image},
		FaceMatchThreshold: aws.Float32(threshold),
		MaxFaces:           aws.Int32(maxFaces),
	})
	if err != nil {
		return nil, fmt.Errorf("search faces: %w", err)
	}
	matches := make([]FaceMatch, 0, len(out.FaceMatches))
	for _, m := range out.FaceMatches {
		match := FaceMatch{Similarity: aws.ToFloat32(m.Similarity)}
		if m.Face != nil {
			match.FaceID = aws.ToString(m.Face.FaceId)
			match.ExternalImageID = aws.ToString(m.Face.ExternalImageId)
			match.Confidence = aws.ToFloat32(m.Face.Confidence)
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// EnsureCollection creates the collection unless it already exists.
func (r *Rekognition) EnsureCollection(ctx context.Context, collectionID string) error {
	_, err := r.api.CreateCollection(ctx, &rekognition.CreateCollectionInput{
		CollectionId: aws.String(collectionID),
	})
	var exists *types.ResourceAlreadyExistsException
	switch {
	case err == nil:
		r.logger.Info("collection created", zap.String("collection_id", collectionID))
		return nil
	case errors.As(err, &exists):
		return nil
	default:
		return fmt.Errorf("create collection %q: %w", collectionID, err)
	}
}
