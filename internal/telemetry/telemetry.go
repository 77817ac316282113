package telemetry

import (
	"context"
	"fmt"
	"time"
)

// GPUSample is a single GPU telemetry reading. Samples are immutable once
// produced; consumers copy what they need.
type GPUSample struct {
	DeviceID       int       `json:"device_id"`
	Name           string    `json:"name"`
	PowerWatts     float64   `json:"power_watts"`
	UtilizationPct float64   `json:"utilization_pct"`
	TemperatureC   float64   `json:"temperature_c"`
	Timestamp      time.Time `json:"timestamp"`
}

// HostSample is a host-level telemetry reading.
type HostSample struct {
	CPUPercent     float64   `json:"cpu_percent"`
	MemUsedPercent float64   `json:"mem_used_percent"`
	UptimeSeconds  uint64    `json:"uptime_seconds"`
	Timestamp      time.Time `json:"timestamp"`
}

// GPUSampler produces GPU telemetry. Implementations do not retry; cadence
// and fallback behavior belong to the caller.
type GPUSampler interface {
	Sample(ctx context.Context) ([]GPUSample, error)
}

// HostSampler produces host telemetry.
type HostSampler interface {
	SampleHost(ctx context.Context) (HostSample, error)
}

// SampleError reports a failed telemetry read. It is soft by contract: the
// caller substitutes its last known good sample and carries on.
type SampleError struct {
	Reason string
	Err    error
}

func (e *SampleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telemetry: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("telemetry: %s", e.Reason)
}

func (e *SampleError) Unwrap() error { return e.Err }
