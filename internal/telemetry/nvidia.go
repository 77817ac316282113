package telemetry

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const nvidiaQuery = "index,name,power.draw,utilization.gpu,temperature.gpu"

// CommandRunner executes the telemetry query tool. Injectable for tests.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// NvidiaSampler reads GPU telemetry through nvidia-smi.
type NvidiaSampler struct {
	logger *zap.Logger
	runner CommandRunner
	binary string
}

// NewNvidiaSampler creates a sampler using the nvidia-smi on PATH.
func NewNvidiaSampler(logger *zap.Logger) *NvidiaSampler {
	return &NvidiaSampler{
		logger: logger,
		runner: execRunner,
		binary: "nvidia-smi",
	}
}

// NewNvidiaSamplerWithRunner creates a sampler with a custom command runner.
func NewNvidiaSamplerWithRunner(logger *zap.Logger, runner CommandRunner) *NvidiaSampler {
	return &NvidiaSampler{
		logger: logger,
		runner: runner,
		binary: "nvidia-smi",
	}
}

// Available reports whether the query tool can be found at all.
func (s *NvidiaSampler) Available() bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}

// Sample queries all GPUs once. An empty device list is a valid result; the
// caller decides whether running without a GPU is acceptable.
func (s *NvidiaSampler) Sample(ctx context.Context) ([]GPUSample, error) {
	output, err := s.runner(ctx, s.binary,
		"--query-gpu="+nvidiaQuery,
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		return nil, &SampleError{Reason: "nvidia-smi query failed", Err: err}
	}

	samples, err := parseNvidiaCSV(string(output), time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Sampled GPU telemetry", zap.Int("devices", len(samples)))
	return samples, nil
}

// parseNvidiaCSV parses "index, name, power.draw, utilization.gpu,
// temperature.gpu" rows. Fields nvidia-smi reports as [N/A] or [Not
// Supported] parse as zero rather than failing the whole sample.
func parseNvidiaCSV(output string, at time.Time) ([]GPUSample, error) {
	samples := []GPUSample{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ", ")
		if len(fields) < 5 {
			return nil, &SampleError{Reason: "unexpected nvidia-smi output: " + line}
		}

		index, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, &SampleError{Reason: "bad device index", Err: err}
		}

		samples = append(samples, GPUSample{
			DeviceID:       index,
			Name:           strings.TrimSpace(fields[1]),
			PowerWatts:     parseFloatField(fields[2]),
			UtilizationPct: parseFloatField(fields[3]),
			TemperatureC:   parseFloatField(fields[4]),
			Timestamp:      at,
		})
	}
	return samples, nil
}

func parseFloatField(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "[") {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
