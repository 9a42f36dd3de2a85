package loom

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricLoomSignalCount      = []string{"loom", "dispatch", "signal", "count"}
	MetricLoomSignalErrorCount = []string{"loom", "dispatch", "signal", "error", "count"}
	MetricLoomMethodCount      = []string{"loom", "dispatch", "method", "count"}
	MetricLoomMethodErrorCount = []string{"loom", "dispatch", "method", "error", "count"}
	MetricLoomNodeCount        = []string{"loom", "scenegraph", "node", "count"}
	MetricLoomCaptureCount     = []string{"loom", "zone", "capture", "count"}
	MetricLoomReleaseCount     = []string{"loom", "zone", "release", "count"}
	MetricLoomZoneUpdateCount  = []string{"loom", "zone", "update", "count"}
	MetricLoomZoneVisibleGauge = []string{"loom", "zone", "visible"}
	MetricLoomFrameInBytes     = []string{"loom", "wire", "frame", "in", "bytes"}
	MetricLoomFrameOutBytes    = []string{"loom", "wire", "frame", "out", "bytes"}
	MetricLoomFrameErrorCount  = []string{"loom", "wire", "frame", "error", "count"}
	MetricLoomClientCount      = []string{"loom", "client", "count"}
)

type TelemetryLabel string

var (
	LabelError      TelemetryLabel = "error"
	LabelClientID   TelemetryLabel = "client_id"
	LabelNodePath   TelemetryLabel = "node_path"
	LabelNodeID     TelemetryLabel = "node_id"
	LabelSignalName TelemetryLabel = "signal_name"
	LabelMethodName TelemetryLabel = "method_name"
	LabelZoneID     TelemetryLabel = "zone_id"
	LabelPeerAddr   TelemetryLabel = "peer_addr"
	LabelDuration   TelemetryLabel = "duration"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
