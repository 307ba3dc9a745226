package constants

// ─── Histogram Buckets ─────────────────────────────────────────────
// Pre-defined bucket sets for Prometheus histograms.
// Changing these affects all histograms using them.

// ReportLatencyBuckets covers 10ms to 5min. Backend calls range from
// small notifications to large static alert batches.
var ReportLatencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.5, 5.0, 10.0, 30.0, 90.0, 300.0,
}

// AlertBatchBuckets covers empty batches up to very noisy captures.
var AlertBatchBuckets = []float64{
	0, 1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 50000,
}

// ─── Common Prometheus Label Sets ──────────────────────────────────
// Pre-defined label slices to avoid repeated allocations.

var LabelsAnalysisType = []string{LabelAnalysisType}
var LabelsAnalysisTypeOutcome = []string{LabelAnalysisType, LabelOutcome}
var LabelsEndpoint = []string{LabelEndpoint}
var LabelsSubscriber = []string{LabelSubscriber}
var LabelsContainer = []string{LabelContainer}
var LabelsEventType = []string{LabelEventType}
