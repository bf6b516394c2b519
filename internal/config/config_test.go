package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ShippedConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "etc", "payd.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "payd", c.Name)
	assert.Equal(t, uint8(6), c.Payment.SettlementDecimals)
	assert.Equal(t, "50", c.Payment.UnitPriceUSD)
	assert.Equal(t, uint64(10000), c.Payment.DefaultPriorityFee)
	assert.Equal(t, c.Solana.RpcEndpoint, c.Solana.PriorityFeeEndpoint)
	assert.Equal(t, 60, c.TimeConf.ReconcileSec)
	assert.Equal(t, 30, c.TimeConf.VerifyAttempts)
	assert.Equal(t, 45_000, c.TimeConf.VerifyTimeoutMs)
}

func TestLoad_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "min.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solana:\n  rpc_endpoint: http://127.0.0.1:8899\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "payd", c.Name)
	assert.Equal(t, 4, c.Aggregator.MaxAttempts)
	assert.Equal(t, 50, c.Aggregator.SlippageBps)
	assert.Equal(t, "Medium", c.Solana.PriorityLevel)
	assert.Equal(t, "http://127.0.0.1:8899", c.Solana.PriorityFeeEndpoint)
	assert.Equal(t, ":memory:", c.Ledger.SQLitePath)
	assert.Equal(t, 60_000, c.TimeConf.SubmitTimeoutMs)
	assert.Equal(t, 30, c.TimeConf.VerifyAttempts)
	assert.Equal(t, 1000, c.TimeConf.VerifyPollMs)
	assert.Equal(t, 45_000, c.TimeConf.VerifyTimeoutMs)
	assert.Equal(t, 8888, c.Http.Port)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solana: [\n"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}
