package v1

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
)

// MetricsOverviewResponse represents the overview response of pipeline metrics
// since process start.
type MetricsOverviewResponse struct {
	TotalRequests int64           `json:"total_requests"`
	ErrorCount    int64           `json:"error_count"`
	SuccessRate   float64         `json:"success_rate"`
	Stages        []StageOverview `json:"stages"`
}

type StageOverview struct {
	Stage        string `json:"stage"`
	Executions   int64  `json:"executions"`
	Errors       int64  `json:"errors"`
	AvgLatencyMs int64  `json:"avg_latency_ms"`
}

// GetMetricsOverview returns the pipeline metrics overview
// GET /api/v1/system/metrics/overview
func (s *APIV1Service) GetMetricsOverview(c echo.Context) error {
	snapshot := s.Metrics.Snapshot()
	resp := MetricsOverviewResponse{
		TotalRequests: snapshot.RequestTotal,
		ErrorCount:    snapshot.RequestFailed,
		SuccessRate:   snapshot.SuccessRate(),
		Stages:        make([]StageOverview, 0, len(snapshot.Stages)),
	}
	for name, stage := range snapshot.Stages {
		resp.Stages = append(resp.Stages, StageOverview{
			Stage:        name,
			Executions:   stage.ExecutionCount,
			Errors:       stage.ErrorCount,
			AvgLatencyMs: stage.AverageDuration,
		})
	}
	sort.Slice(resp.Stages, func(i, j int) bool { return resp.Stages[i].Stage < resp.Stages[j].Stage })
	return c.JSON(http.StatusOK, resp)
}
