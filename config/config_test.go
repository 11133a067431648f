package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iturovskiy/blockmesh/config"
)

func TestLoadValidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id: stg1
mode: modified
data_dir: ./mesh-data
store: leveldb
rpc_port: 9000
participants:
  - addr: aabbcc
    sign: ddeeff
    dir: ./usr0
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "stg1", cfg.NodeID)
	assert.Equal(t, "modified", cfg.Mode)
	assert.Equal(t, "leveldb", cfg.Store)
	assert.Equal(t, 9000, cfg.RPCPort)
	require.Len(t, cfg.Participants, 1)
	assert.Equal(t, "aabbcc", cfg.Participants[0].Addr)
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty node id", func(c *config.Config) { c.NodeID = "" }},
		{"unknown mode", func(c *config.Config) { c.Mode = "turbo" }},
		{"empty data dir", func(c *config.Config) { c.DataDir = "" }},
		{"unknown store", func(c *config.Config) { c.Store = "redis" }},
		{"bad rpc port", func(c *config.Config) { c.RPCPort = 0 }},
		{"participant without dir", func(c *config.Config) {
			c.Participants = []config.Participant{{Addr: "aa"}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			require.NoError(t, cfg.Validate())
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.NodeID = "stg7"
	require.NoError(t, config.Save(cfg, path))

	got, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
