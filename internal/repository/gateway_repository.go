package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-auth/internal/logging"
)

// ErrNotFound is returned when no log matches a lookup.
var ErrNotFound = errors.New("gateway log not found")

// GatewayLog is the audit record of one gateway call. Images are never
// stored, only their hash.
type GatewayLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Action     string    `gorm:"column:action;size:16;index"`
	Success    bool      `gorm:"column:success"`
	Kind       string    `gorm:"column:kind;size:32"`
	Error      string    `gorm:"column:error;type:text"`
	FaceCount  int       `gorm:"column:face_count"`
	FaceID     string    `gorm:"column:face_id;size:64"`
	Similarity float32   `gorm:"column:similarity"`
	SHA1Hash   string    `gorm:"column:sha1_hash;size:40;index"`
	LatencyMs  int64     `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (GatewayLog) TableName() string {
	return "gateway_logs"
}

// ActionMetrics aggregates the logs of one action.
type ActionMetrics struct {
	Action           string  `gorm:"column:action"`
	TotalCount       int64   `gorm:"column:total_count"`
	SuccessCount     int64   `gorm:"column:success_count"`
	AverageLatencyMs float64 `gorm:"column:average_latency_ms"`
	// AverageSimilarity only counts successful authentications.
	AverageSimilarity float64 `gorm:"column:average_similarity"`
}

// GatewayRepository persists gateway audit logs.
type GatewayRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewGatewayRepository creates a new repository instance.
func NewGatewayRepository(db *gorm.DB, logger *zap.Logger) *GatewayRepository {
	return &GatewayRepository{
		db:             db,
		logger:         logger.Named("gateway_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *GatewayRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&GatewayLog{})
	})
}

// SaveLog persists a gateway log entry.
func (r *GatewayRepository) SaveLog(ctx context.Context, log *GatewayLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByRequestID retrieves the log for a request.
func (r *GatewayRepository) FindByRequestID(ctx context.Context, requestID string) (*GatewayLog, error) {
	var log GatewayLog
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		return r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, logging.NewOperationError("repository.find_by_request_id", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarizes the audit log per action.
func (r *GatewayRepository) AggregateMetrics(ctx context.Context) ([]ActionMetrics, error) {
	var rows []ActionMetrics
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		rows = rows[:0]
		return r.db.WithContext(ctx).
			Model(&GatewayLog{}).
			Select(`action,
				COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms,
				COALESCE(AVG(CASE WHEN success AND action = 'authenticate' THEN similarity END), 0) AS average_similarity`).
			Group("action").
			Order("action").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *GatewayRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if !logging.IsTransient(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}
