package telemetry

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// GopsutilHostSampler reads host CPU/memory/uptime through gopsutil.
type GopsutilHostSampler struct {
	logger *zap.Logger
}

// NewHostSampler creates a host sampler.
func NewHostSampler(logger *zap.Logger) *GopsutilHostSampler {
	return &GopsutilHostSampler{logger: logger}
}

// SampleHost reads host telemetry once. Partial failures degrade to zero
// values in the affected fields; only a total failure returns an error.
func (s *GopsutilHostSampler) SampleHost(ctx context.Context) (HostSample, error) {
	sample := HostSample{Timestamp: time.Now().UTC()}

	cpuPercents, cpuErr := cpu.PercentWithContext(ctx, 0, false)
	if cpuErr == nil && len(cpuPercents) > 0 {
		sample.CPUPercent = cpuPercents[0]
	}

	vm, memErr := mem.VirtualMemoryWithContext(ctx)
	if memErr == nil {
		sample.MemUsedPercent = vm.UsedPercent
	}

	uptime, upErr := host.UptimeWithContext(ctx)
	if upErr == nil {
		sample.UptimeSeconds = uptime
	}

	if cpuErr != nil && memErr != nil && upErr != nil {
		return HostSample{}, &SampleError{Reason: "host telemetry unavailable", Err: cpuErr}
	}

	if cpuErr != nil || memErr != nil || upErr != nil {
		s.logger.Debug("Partial host telemetry failure",
			zap.NamedError("cpu", cpuErr),
			zap.NamedError("mem", memErr),
			zap.NamedError("uptime", upErr),
		)
	}

	return sample, nil
}
