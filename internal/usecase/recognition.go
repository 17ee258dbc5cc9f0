package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/face-auth/internal/failure"
	"github.com/example/face-auth/internal/gateway"
	"github.com/example/face-auth/internal/logging"
	"github.com/example/face-auth/internal/recognition"
	"github.com/example/face-auth/internal/repository"
)

// ErrInvalidAction is returned for a request whose action is not recognized.
var ErrInvalidAction = errors.New("invalid action")

const (
	msgInvalidPhoto      = "Invalid photo"
	msgExactlyOneFace    = "Invalid photo: Must detect exactly one face."
	msgNoMatch           = "No matching face found."
	resultTTL            = 5 * time.Minute
	defaultMaxConcurrent = 5
)

// AuditRepository defines the persistence operations needed by the use case.
type AuditRepository interface {
	SaveLog(ctx context.Context, log *repository.GatewayLog) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.GatewayLog, error)
	AggregateMetrics(ctx context.Context) ([]repository.ActionMetrics, error)
}

// TokenIssuer signs session tokens for matched faces.
type TokenIssuer interface {
	Issue(subject string) (string, error)
}

// Result is the outcome of a gateway call as returned by GET /result/:id.
type Result struct {
	RequestID  string    `json:"request_id"`
	Action     string    `json:"action"`
	Success    bool      `json:"success"`
	Kind       string    `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	FaceCount  int       `json:"face_count"`
	FaceID     string    `json:"face_id,omitempty"`
	Similarity float32   `json:"similarity,omitempty"`
	Hash       string    `json:"sha1_hash"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecognitionUseCase implements the validate, index and authenticate actions.
type RecognitionUseCase struct {
	provider       recognition.Provider
	repo           AuditRepository
	cache          Cache
	tokens         TokenIssuer
	logger         *zap.Logger
	collectionID   string
	threshold      float32
	maxConcurrent  int
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures a RecognitionUseCase.
type Option func(*RecognitionUseCase)

// WithCollection sets the collection used when a request names none.
func WithCollection(id string) Option {
	return func(uc *RecognitionUseCase) {
		if id != "" {
			uc.collectionID = id
		}
	}
}

// WithMatchThreshold sets the minimum similarity for authenticate.
func WithMatchThreshold(threshold float32) Option {
	return func(uc *RecognitionUseCase) {
		if threshold > 0 {
			uc.threshold = threshold
		}
	}
}

// WithMaxConcurrentIndex bounds the IndexFaces calls in flight per batch.
func WithMaxConcurrentIndex(n int) Option {
	return func(uc *RecognitionUseCase) {
		if n > 0 {
			uc.maxConcurrent = n
		}
	}
}

// NewRecognitionUseCase constructs a new use case instance.
func NewRecognitionUseCase(provider recognition.Provider, repo AuditRepository, cache Cache, tokens TokenIssuer, logger *zap.Logger, opts ...Option) *RecognitionUseCase {
	uc := &RecognitionUseCase{
		provider:       provider,
		repo:           repo,
		cache:          cache,
		tokens:         tokens,
		logger:         logger.Named("recognition_usecase"),
		collectionID:   gateway.DefaultCollectionID,
		threshold:      gateway.MatchThreshold,
		maxConcurrent:  defaultMaxConcurrent,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// EnsureCollection makes sure the default collection exists.
func (uc *RecognitionUseCase) EnsureCollection(ctx context.Context) error {
	return logging.NewOperationError("usecase.ensure_collection", "",
		uc.provider.EnsureCollection(ctx, uc.collectionID))
}

// Handle dispatches req to its action. Domain failures are returned as
// *failure.Error; an unknown action yields ErrInvalidAction.
func (uc *RecognitionUseCase) Handle(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	if !req.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase."+string(req.Action), requestID)
	started := time.Now()
	audit := &repository.GatewayLog{RequestID: requestID, Action: string(req.Action)}

	var (
		resp *gateway.Response
		err  error
	)
	switch req.Action {
	case gateway.ActionValidate:
		resp, err = uc.validate(ctx, requestID, req, audit)
	case gateway.ActionIndex:
		resp, err = uc.index(ctx, requestID, req, audit)
	case gateway.ActionAuthenticate:
		resp, err = uc.authenticate(ctx, requestID, req, audit)
	}

	audit.LatencyMs = time.Since(started).Milliseconds()
	audit.CreatedAt = time.Now().UTC()
	if err != nil {
		fe := failure.Normalize(err)
		audit.Kind = string(fe.Kind)
		audit.Error = fe.Error()
		opLogger.Warn("request failed", zap.String("kind", audit.Kind), zap.Error(err))
	} else {
		audit.Success = true
		resp.RequestID = requestID
		opLogger.Info("request succeeded", zap.Int64("latency_ms", audit.LatencyMs))
	}
	uc.record(ctx, opLogger, audit)
	return resp, err
}

func (uc *RecognitionUseCase) validate(ctx context.Context, requestID string, req gateway.Request, audit *repository.GatewayLog) (*gateway.Response, error) {
	image, err := decodePhoto(req.Photo)
	if err != nil {
		return nil, err
	}
	audit.SHA1Hash = hashImages(image)

	faces, err := uc.provider.DetectFaces(ctx, image)
	if err != nil {
		return nil, logging.NewOperationError("usecase.detect_faces", requestID, err)
	}
	audit.FaceCount = len(faces)
	if len(faces) != 1 {
		return nil, failure.New(failure.NoFaceOrMultipleFaces, msgInvalidPhoto)
	}

	return dataResponse(detectionData(faces))
}

func (uc *RecognitionUseCase) index(ctx context.Context, requestID string, req gateway.Request, audit *repository.GatewayLog) (*gateway.Response, error) {
	if len(req.Photos) == 0 {
		return nil, failure.New(failure.InvalidRequest, "photos must not be empty")
	}
	images := make([][]byte, len(req.Photos))
	for i, photo := range req.Photos {
		image, err := decodePhoto(photo)
		if err != nil {
			return nil, failure.Wrap(failure.InvalidRequest, fmt.Sprintf("photo %d: %v", i+1, err), err)
		}
		images[i] = image
	}
	audit.SHA1Hash = hashImages(images...)

	collectionID := uc.collectionFor(req)
	indexed := make([][]recognition.IndexedFace, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.maxConcurrent)
	for i, image := range images {
		i, image := i, image
		g.Go(func() error {
			faces, err := uc.provider.IndexFaces(gctx, collectionID, image)
			if err != nil {
				return failure.Wrap(failure.PartialBatchFailure, "", logging.NewOperationError("usecase.index_faces", requestID, err))
			}
			if len(faces) == 0 {
				return failure.New(failure.PartialBatchFailure, fmt.Sprintf("No face indexed in photo %d", i+1))
			}
			indexed[i] = faces
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := gateway.IndexData{CollectionID: collectionID}
	for _, faces := range indexed {
		for _, f := range faces {
			data.FaceIDs = append(data.FaceIDs, f.FaceID)
		}
	}
	audit.FaceCount = len(data.FaceIDs)
	return dataResponse(data)
}

func (uc *RecognitionUseCase) authenticate(ctx context.Context, requestID string, req gateway.Request, audit *repository.GatewayLog) (*gateway.Response, error) {
	image, err := decodePhoto(req.Photo)
	if err != nil {
		return nil, err
	}
	audit.SHA1Hash = hashImages(image)

	faces, err := uc.provider.DetectFaces(ctx, image)
	if err != nil {
		return nil, logging.NewOperationError("usecase.detect_faces", requestID, err)
	}
	audit.FaceCount = len(faces)
	if len(faces) != 1 {
		return nil, failure.New(failure.NoFaceOrMultipleFaces, msgExactlyOneFace)
	}

	matches, err := uc.provider.SearchFacesByImage(ctx, uc.collectionFor(req), image, uc.threshold, gateway.MaxMatches)
	if err != nil {
		return nil, logging.NewOperationError("usecase.search_faces", requestID, err)
	}
	if len(matches) == 0 {
		return nil, failure.New(failure.NoMatchFound, msgNoMatch)
	}

	best := matches[0]
	audit.FaceID = best.FaceID
	audit.Similarity = best.Similarity

	token, err := uc.tokens.Issue(best.FaceID)
	if err != nil {
		return nil, logging.NewOperationError("usecase.issue_token", requestID, err)
	}

	match := &gateway.Match{
		FaceID:          best.FaceID,
		ExternalImageID: best.ExternalImageID,
		Similarity:      best.Similarity,
		Confidence:      best.Confidence,
	}
	return &gateway.Response{Success: true, Match: match, Token: token}, nil
}

// record writes the audit entry and caches it for GetResult. Neither failure
// changes the outcome of the request.
func (uc *RecognitionUseCase) record(ctx context.Context, opLogger *zap.Logger, audit *repository.GatewayLog) {
	if err := uc.repo.SaveLog(ctx, audit); err != nil {
		opLogger.Error("failed to persist gateway log", zap.Error(err))
	}

	serialized, err := json.Marshal(resultFromLog(audit))
	if err != nil {
		opLogger.Error("failed to serialize gateway result", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, audit.RequestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(audit.RequestID), string(serialized), resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache gateway result", zap.Error(err))
	}
}

// GetResult retrieves a cached outcome or loads it from the audit log.
func (uc *RecognitionUseCase) GetResult(ctx context.Context, requestID string) (*Result, error) {
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID)); err == nil {
		var result Result
		if err := json.Unmarshal([]byte(cached), &result); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else {
			if result.RequestID == "" {
				result.RequestID = requestID
			}
			return &result, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return resultFromLog(log), nil
}

func (uc *RecognitionUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) || !logging.IsTransient(err) || attempt == uc.retryAttempts-1 {
			if !errors.Is(err, redis.Nil) {
				opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *RecognitionUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (uc *RecognitionUseCase) collectionFor(req gateway.Request) string {
	if req.CollectionID != "" {
		return req.CollectionID
	}
	return uc.collectionID
}

func decodePhoto(photo string) ([]byte, error) {
	_, data, err := gateway.ParseDataURL(photo)
	if err != nil {
		return nil, failure.Wrap(failure.InvalidRequest, "photo must be a base64 image data URL", err)
	}
	return data, nil
}

func hashImages(images ...[]byte) string {
	h := sha1.New()
	for _, image := range images {
		h.Write(image)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func detectionData(faces []recognition.Face) gateway.DetectionData {
	data := gateway.DetectionData{FaceCount: len(faces)}
	for _, f := range faces {
		data.Confidences = append(data.Confidences, f.Confidence)
	}
	return data
}

func dataResponse(v any) (*gateway.Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response data: %w", err)
	}
	return &gateway.Response{Success: true, Data: raw}, nil
}

func resultKey(requestID string) string {
	return fmt.Sprintf("rekognition:%s", requestID)
}

func resultFromLog(log *repository.GatewayLog) *Result {
	return &Result{
		RequestID:  log.RequestID,
		Action:     log.Action,
		Success:    log.Success,
		Kind:       log.Kind,
		Error:      log.Error,
		FaceCount:  log.FaceCount,
		FaceID:     log.FaceID,
		Similarity: log.Similarity,
		Hash:       log.SHA1Hash,
		LatencyMs:  log.LatencyMs,
		CreatedAt:  log.CreatedAt,
	}
}
