package node

import (
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"dcnode.dev/node/consensus"
)

const EnvPrefix = "DCNODE"

type Config struct {
	Network  string   `json:"network" mapstructure:"network"`
	DataDir  string   `json:"data_dir" mapstructure:"data_dir"`
	BindAddr string   `json:"bind_addr" mapstructure:"bind_addr"`
	LogLevel string   `json:"log_level" mapstructure:"log_level"`
	Peers    []string `json:"peers" mapstructure:"peers"`
	MaxPeers int      `json:"max_peers" mapstructure:"max_peers"`

	// Whitelist holds peer hosts whose unsolicited blocks are always considered.
	Whitelist []string `json:"whitelist" mapstructure:"whitelist"`
	// CommitmentMarker is the hex marker that prefixes drivechain ids in coinbase commitments.
	CommitmentMarker string `json:"commitment_marker" mapstructure:"commitment_marker"`
	MetricsAddr      string `json:"metrics_addr" mapstructure:"metrics_addr"`
	// Target is the hex-encoded constant PoW target; empty means the network default.
	Target string `json:"target" mapstructure:"target"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".dcnode"
	}
	return filepath.Join(home, ".dcnode")
}

func DefaultConfig() Config {
	return Config{
		Network:          "devnet",
		DataDir:          DefaultDataDir(),
		BindAddr:         "0.0.0.0:19111",
		Peers:            nil,
		LogLevel:         "info",
		MaxPeers:         64,
		CommitmentMarker: hex.EncodeToString(consensus.DefaultCommitmentMarker),
	}
}

// SetDefaults registers DefaultConfig values on v so unset keys resolve.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("network", d.Network)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("bind_addr", d.BindAddr)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("peers", []string{})
	v.SetDefault("max_peers", d.MaxPeers)
	v.SetDefault("whitelist", []string{})
	v.SetDefault("commitment_marker", d.CommitmentMarker)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("target", "")
}

// LoadConfig reads configuration from v: an optional config file, DCNODE_*
// environment variables and any flags already bound by the caller.
func LoadConfig(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	cfg.Peers = NormalizePeers(cfg.Peers...)
	cfg.Whitelist = NormalizePeers(cfg.Whitelist...)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if _, ok := networkMagics[cfg.Network]; !ok {
		return errors.Errorf("unknown network %q", cfg.Network)
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return errors.Wrap(err, "invalid bind_addr")
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return errors.Wrapf(err, "invalid peer %q", peer)
		}
	}
	for _, host := range cfg.Whitelist {
		if strings.Contains(host, " ") {
			return errors.Errorf("invalid whitelist host %q", host)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return errors.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 {
		return errors.New("max_peers must be > 0")
	}
	if cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be <= 4096")
	}
	if _, err := cfg.Marker(); err != nil {
		return err
	}
	if _, err := cfg.TargetBytes(); err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		if err := validateAddr(cfg.MetricsAddr); err != nil {
			return errors.Wrap(err, "invalid metrics_addr")
		}
	}
	return nil
}

// Marker decodes CommitmentMarker.
func (c Config) Marker() ([]byte, error) {
	if strings.TrimSpace(c.CommitmentMarker) == "" {
		return append([]byte(nil), consensus.DefaultCommitmentMarker...), nil
	}
	m, err := hex.DecodeString(strings.TrimSpace(c.CommitmentMarker))
	if err != nil {
		return nil, errors.Wrap(err, "invalid commitment_marker")
	}
	if len(m) == 0 || len(m) > 16 {
		return nil, errors.New("commitment_marker must be 1..16 bytes")
	}
	return m, nil
}

// TargetBytes returns the configured PoW target or the network default.
func (c Config) TargetBytes() ([32]byte, error) {
	var out [32]byte
	raw := strings.TrimSpace(c.Target)
	if raw == "" {
		return DefaultTarget(c.Network), nil
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return out, errors.Wrap(err, "invalid target")
	}
	if len(b) != 32 {
		return out, errors.Errorf("target must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	if _, err := consensus.WorkFromTarget(out); err != nil {
		return out, errors.Wrap(err, "invalid target")
	}
	return out, nil
}

// IsWhitelisted reports whether addr's host appears in Whitelist.
func (c Config) IsWhitelisted(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	for _, w := range c.Whitelist {
		if w == host || w == addr {
			return true
		}
	}
	return false
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}
