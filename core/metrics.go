package core

import (
	"context"
	"maps"
)

// NopMetricsRecorder is the default recorder when the host wires none.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(_ context.Context, _ string, _ int64, _ map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(_ context.Context, _ string, _ float64, _ map[string]string) {
}

var _ MetricsRecorder = NopMetricsRecorder{}

// cloneTags hands the recorder its own copy so it can retain tags past the
// call without racing the caller.
func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	maps.Copy(out, tags)
	return out
}
