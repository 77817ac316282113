package coins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoin(t *testing.T) {
	coin, err := ParseCoin("rvn")
	assert.NoError(t, err)
	assert.Equal(t, CoinRVN, coin)

	coin, err = ParseCoin(" ETC ")
	assert.NoError(t, err)
	assert.Equal(t, CoinETC, coin)

	_, err = ParseCoin("DOGE")
	assert.Error(t, err)
}

func TestParseAlgorithm(t *testing.T) {
	algo, err := ParseAlgorithm("kawpow")
	assert.NoError(t, err)
	assert.Equal(t, AlgoKawpow, algo)

	_, err = ParseAlgorithm("scrypt")
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	spec, err := Lookup(CoinRVN)
	require.NoError(t, err)
	assert.Equal(t, AlgoKawpow, spec.Algorithm)
	assert.Equal(t, "nbminer", spec.MinerBinary)
	assert.Contains(t, spec.StatsURL("RWALLET"), "RWALLET")

	args := spec.Args("stratum+tcp://pool:6060", "RWALLET", "rig01")
	assert.Contains(t, args, "stratum+tcp://pool:6060")
	assert.Contains(t, args, "RWALLET.rig01")

	_, err = Lookup(Coin("BTC"))
	assert.Error(t, err)
}

func TestNetworkFactorUnavailableWithoutPrice(t *testing.T) {
	spec, err := Lookup(CoinETC)
	require.NoError(t, err)

	_, ok := spec.NetworkFactor(0, 0)
	assert.False(t, ok)

	factor, ok := spec.NetworkFactor(20.0, 0)
	assert.True(t, ok)
	assert.Greater(t, factor, 0.0)
}

func TestNetworkFactorScalesWithPrice(t *testing.T) {
	spec, err := Lookup(CoinRVN)
	require.NoError(t, err)

	low, ok := spec.NetworkFactor(0.02, 0)
	require.True(t, ok)
	high, ok := spec.NetworkFactor(0.04, 0)
	require.True(t, ok)
	assert.InDelta(t, 2.0, high/low, 1e-9)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coins.yaml")
	data := []byte(`
RVN:
  miner_binary: kawpowminer
  default_pool: stratum+tcp://rvn.example.com:3333
  stats_endpoint: https://pool.example.com/api/accounts/
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	original := registry[CoinRVN]
	t.Cleanup(func() { registry[CoinRVN] = original })

	require.NoError(t, LoadOverrides(path))

	spec, err := Lookup(CoinRVN)
	require.NoError(t, err)
	assert.Equal(t, "kawpowminer", spec.MinerBinary)
	assert.Equal(t, "stratum+tcp://rvn.example.com:3333", spec.DefaultPool)
	assert.Equal(t, "https://pool.example.com/api/accounts/RWALLET", spec.StatsURL("RWALLET"))
}

func TestLoadOverridesMissingFile(t *testing.T) {
	assert.NoError(t, LoadOverrides(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestLoadOverridesUnknownCoin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coins.yaml")
	require.NoError(t, os.WriteFile(path, []byte("BTC:\n  miner_binary: x\n"), 0o644))
	assert.Error(t, LoadOverrides(path))
}
