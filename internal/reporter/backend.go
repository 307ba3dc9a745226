package reporter

import (
	"context"

	"github.com/sureshkrishnan-v/idsagent/internal/alert"
	"github.com/sureshkrishnan-v/idsagent/internal/constants"
)

// AlertBatch is the body of an alert publish call.
type AlertBatch struct {
	ContainerID  int           `json:"container_id"`
	EnsembleID   *int          `json:"ensemble_id"`
	Alerts       []alert.Alert `json:"alerts"`
	AnalysisType string        `json:"analysis_type"`
	DatasetID    *int          `json:"dataset_id"`
}

// FinishedNotice is the body of an analysis-finished call.
type FinishedNotice struct {
	ContainerID int  `json:"container_id"`
	EnsembleID  *int `json:"ensemble_id"`
}

// MetricSample is one resource usage reading.
type MetricSample struct {
	ContainerID   int     `json:"container_id"`
	ContainerName string  `json:"container_name"`
	CPUUsage      float64 `json:"cpu_usage"`
	MemoryUsage   float64 `json:"memory_usage"`
}

// AlertsPath selects the alert publish endpoint for an ensemble membership.
func AlertsPath(ensembleID *int) string {
	if ensembleID == nil {
		return constants.PathSoloAlerts
	}
	return constants.PathEnsembleAlerts
}

// FinishedPath selects the analysis-finished endpoint for an ensemble membership.
func FinishedPath(ensembleID *int) string {
	if ensembleID == nil {
		return constants.PathSoloFinished
	}
	return constants.PathEnsembleFinished
}

// PublishAlerts forwards one alert batch. The endpoint is chosen from the
// batch's ensemble ID, which callers capture at send time.
func (r *Reporter) PublishAlerts(ctx context.Context, batch AlertBatch) bool {
	if batch.Alerts == nil {
		batch.Alerts = []alert.Alert{}
	}
	timeout := r.timeouts.NetworkAlerts
	if batch.AnalysisType == constants.AnalysisStatic {
		timeout = r.timeouts.StaticAlerts
	}
	return r.Send(ctx, AlertsPath(batch.EnsembleID), batch, timeout)
}

// AnalysisFinished tells the backend the sensor is idle again.
func (r *Reporter) AnalysisFinished(ctx context.Context, notice FinishedNotice) bool {
	return r.Send(ctx, FinishedPath(notice.EnsembleID), notice, r.timeouts.Notify)
}

// PushMetrics sends one resource sample.
func (r *Reporter) PushMetrics(ctx context.Context, sample MetricSample) bool {
	return r.Send(ctx, constants.PathMetricsPush, sample, r.timeouts.Metrics)
}
