package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcnode.dev/node/consensus"
)

func TestNormalizePeers(t *testing.T) {
	got := NormalizePeers("127.0.0.1:19111, 127.0.0.1:19112", "127.0.0.1:19111", " ", "10.0.0.1:19111")
	assert.Equal(t, []string{"127.0.0.1:19111", "127.0.0.1:19112", "10.0.0.1:19111"}, got)
}

func TestValidateConfigOK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Peers = []string{"127.0.0.1:19111"}
	require.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfigRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad bind":          func(c *Config) { c.BindAddr = "127.0.0.1" },
		"bad peer":          func(c *Config) { c.Peers = []string{"bad-peer"} },
		"peer missing host": func(c *Config) { c.Peers = []string{":19111"} },
		"empty network":     func(c *Config) { c.Network = " " },
		"unknown network":   func(c *Config) { c.Network = "moonnet" },
		"empty data dir":    func(c *Config) { c.DataDir = "" },
		"log level":         func(c *Config) { c.LogLevel = "verbose" },
		"max peers zero":    func(c *Config) { c.MaxPeers = 0 },
		"max peers high":    func(c *Config) { c.MaxPeers = 4097 },
		"marker not hex":    func(c *Config) { c.CommitmentMarker = "zz" },
		"target short":      func(c *Config) { c.Target = "00ff" },
		"target zero":       func(c *Config) { c.Target = "0000000000000000000000000000000000000000000000000000000000000000" },
		"metrics addr":      func(c *Config) { c.MetricsAddr = "nope" },
		"whitelist space":   func(c *Config) { c.Whitelist = []string{"a b"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, ValidateConfig(cfg))
		})
	}
}

func TestConfigMarkerAndTargetDefaults(t *testing.T) {
	cfg := DefaultConfig()
	m, err := cfg.Marker()
	require.NoError(t, err)
	assert.Equal(t, consensus.DefaultCommitmentMarker, m)

	target, err := cfg.TargetBytes()
	require.NoError(t, err)
	assert.Equal(t, consensus.POW_LIMIT, target)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dcnode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network: regtest
data_dir: `+dir+`
bind_addr: 127.0.0.1:0
peers:
  - 127.0.0.1:20001
whitelist:
  - 127.0.0.1
`), 0o600))
	t.Setenv("DCNODE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "regtest", cfg.Network)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"127.0.0.1:20001"}, cfg.Peers)
	assert.True(t, cfg.IsWhitelisted("127.0.0.1:5555"))
	assert.False(t, cfg.IsWhitelisted("10.0.0.1:5555"))
	assert.Equal(t, 64, cfg.MaxPeers)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
