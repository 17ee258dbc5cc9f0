package usecase

import "context"

// ActionSummary holds the aggregated figures of one action.
type ActionSummary struct {
	Action             string  `json:"action"`
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	AverageLatencyMs   float64 `json:"average_latency_ms"`
}

// MetricsSummary represents aggregated gateway insights.
type MetricsSummary struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	// AverageSimilarity is the mean similarity of successful authentications.
	AverageSimilarity float64         `json:"average_similarity"`
	AverageLatencyMs  float64         `json:"average_latency_ms"`
	Actions           []ActionSummary `json:"actions"`
}

// GetMetricsSummary aggregates gateway metrics from persisted logs.
func (uc *RecognitionUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	rows, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{Actions: make([]ActionSummary, 0, len(rows))}
	var latencySum float64
	for _, row := range rows {
		summary.TotalRequests += row.TotalCount
		summary.SuccessfulRequests += row.SuccessCount
		latencySum += row.AverageLatencyMs * float64(row.TotalCount)
		if row.Action == "authenticate" {
			summary.AverageSimilarity = row.AverageSimilarity
		}
		summary.Actions = append(summary.Actions, ActionSummary{
			Action:             row.Action,
			TotalRequests:      row.TotalCount,
			SuccessfulRequests: row.SuccessCount,
			SuccessRate:        rate(row.SuccessCount, row.TotalCount),
			AverageLatencyMs:   row.AverageLatencyMs,
		})
	}

	summary.SuccessRate = rate(summary.SuccessfulRequests, summary.TotalRequests)
	if summary.TotalRequests > 0 {
		summary.AverageLatencyMs = latencySum / float64(summary.TotalRequests)
	}
	return summary, nil
}

func rate(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
