package usecase

import "context"

// MetricsSummary represents aggregated comparison insights.
type MetricsSummary struct {
	TotalComparisons     int64   `json:"total_comparisons"`
	ComparisonsWithMatch int64   `json:"comparisons_with_match"`
	MatchRate            float64 `json:"match_rate"`
	AverageMatches       float64 `json:"average_matches"`
	AverageLatencyMs     float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates comparison metrics from persisted logs.
func (uc *ComparisonUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalComparisons:     aggregation.TotalCount,
		ComparisonsWithMatch: aggregation.MatchedCount,
		AverageMatches:       aggregation.AverageMatches,
		AverageLatencyMs:     aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
