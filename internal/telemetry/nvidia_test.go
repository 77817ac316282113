package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseNvidiaCSV(t *testing.T) {
	output := `0, NVIDIA GeForce RTX 3070, 128.54, 99, 61
1, NVIDIA GeForce RTX 3060, 112.07, 97, 58
`
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	samples, err := parseNvidiaCSV(output, at)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, 0, samples[0].DeviceID)
	assert.Equal(t, "NVIDIA GeForce RTX 3070", samples[0].Name)
	assert.InDelta(t, 128.54, samples[0].PowerWatts, 1e-9)
	assert.InDelta(t, 99.0, samples[0].UtilizationPct, 1e-9)
	assert.InDelta(t, 61.0, samples[0].TemperatureC, 1e-9)
	assert.Equal(t, at, samples[0].Timestamp)

	assert.Equal(t, 1, samples[1].DeviceID)
}

func TestParseNvidiaCSVNotSupportedFields(t *testing.T) {
	output := "0, Tesla K80, [Not Supported], 12, 44"
	samples, err := parseNvidiaCSV(output, time.Now())
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Zero(t, samples[0].PowerWatts)
	assert.InDelta(t, 12.0, samples[0].UtilizationPct, 1e-9)
}

func TestParseNvidiaCSVEmpty(t *testing.T) {
	samples, err := parseNvidiaCSV("", time.Now())
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestParseNvidiaCSVMalformed(t *testing.T) {
	_, err := parseNvidiaCSV("garbage output", time.Now())
	require.Error(t, err)

	var sampleErr *SampleError
	assert.ErrorAs(t, err, &sampleErr)
}

func TestNvidiaSamplerRunnerFailure(t *testing.T) {
	runner := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("exec: not found")
	}
	sampler := NewNvidiaSamplerWithRunner(zap.NewNop(), runner)

	_, err := sampler.Sample(context.Background())
	require.Error(t, err)

	var sampleErr *SampleError
	assert.ErrorAs(t, err, &sampleErr)
}

func TestNvidiaSamplerRunnerOutput(t *testing.T) {
	runner := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "nvidia-smi", name)
		return []byte("0, RTX 3080, 220.10, 100, 65\n"), nil
	}
	sampler := NewNvidiaSamplerWithRunner(zap.NewNop(), runner)

	samples, err := sampler.Sample(context.Background())
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.InDelta(t, 220.10, samples[0].PowerWatts, 1e-9)
}
