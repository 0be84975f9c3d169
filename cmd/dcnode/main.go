package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dcnode.dev/node/consensus"
	"dcnode.dev/node/node"
	"dcnode.dev/node/node/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(viper.New(), stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			_, _ = fmt.Fprintf(stderr, "error: %v\n", ee.err)
			return ee.code
		}
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	return 0
}

func newRootCmd(v *viper.Viper, stdout io.Writer) *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "dcnode",
		Short:         "Drivechain commitment validating node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	d := node.DefaultConfig()
	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("network", d.Network, "network name (mainnet/testnet/devnet/regtest)")
	flags.String("data-dir", d.DataDir, "node data directory")
	flags.String("log-level", d.LogLevel, "log level: debug|info|warn|error")
	flags.String("commitment-marker", d.CommitmentMarker, "hex marker prefixing coinbase commitments")
	for flag, key := range map[string]string{
		"network":           "network",
		"data-dir":          "data_dir",
		"log-level":         "log_level",
		"commitment-marker": "commitment_marker",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	load := func() (node.Config, error) {
		cfg, err := node.LoadConfig(v, configFile)
		if err != nil {
			return node.Config{}, &exitError{code: 2, err: errors.Wrap(err, "invalid config")}
		}
		return cfg, nil
	}

	root.AddCommand(
		newRunCmd(v, load),
		newMineCmd(load, stdout),
		newConfigCmd(load, stdout),
	)
	return root
}

func newRunCmd(v *viper.Viper, load func() (node.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cfg)
		},
	}
	flags := cmd.Flags()
	flags.String("bind", node.DefaultConfig().BindAddr, "p2p listen address host:port")
	flags.StringSlice("peers", nil, "bootstrap peers host:port (repeatable or comma-separated)")
	flags.StringSlice("whitelist", nil, "trusted peer hosts")
	flags.Int("max-peers", node.DefaultConfig().MaxPeers, "max connected peers")
	flags.String("metrics-addr", "", "serve prometheus metrics on host:port")
	for flag, key := range map[string]string{
		"bind":         "bind_addr",
		"peers":        "peers",
		"whitelist":    "whitelist",
		"max-peers":    "max_peers",
		"metrics-addr": "metrics_addr",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func newMineCmd(load func() (node.Config, error), stdout io.Writer) *cobra.Command {
	var (
		blocks  int
		commits []string
	)
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine blocks into the local data directory and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			commitments, err := parseCommitments(commits)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return mineBlocks(cmd.Context(), cfg, blocks, commitments, stdout)
		},
	}
	cmd.Flags().IntVar(&blocks, "blocks", 1, "number of blocks to mine")
	cmd.Flags().StringArrayVar(&commits, "commit", nil, "commitment idhex:payloadhex to embed in each coinbase (repeatable)")
	return cmd
}

func newConfigCmd(load func() (node.Config, error), stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return printConfig(stdout, cfg)
		},
	}
}

// parseCommitments decodes idhex:payloadhex pairs. The payload may be empty.
func parseCommitments(raw []string) ([]consensus.Commitment, error) {
	out := make([]consensus.Commitment, 0, len(raw))
	for _, s := range raw {
		idHex, payloadHex, ok := strings.Cut(strings.TrimSpace(s), ":")
		if !ok {
			return nil, errors.Errorf("commitment %q: want idhex:payloadhex", s)
		}
		id, err := hex.DecodeString(idHex)
		if err != nil {
			return nil, errors.Wrapf(err, "commitment %q: drivechain id", s)
		}
		if len(id) == 0 || len(id) > consensus.MaxDrivechainIDBytes {
			return nil, errors.Errorf("commitment %q: drivechain id must be 1..%d bytes", s, consensus.MaxDrivechainIDBytes)
		}
		payload, err := hex.DecodeString(payloadHex)
		if err != nil {
			return nil, errors.Wrapf(err, "commitment %q: payload", s)
		}
		out = append(out, consensus.Commitment{DrivechainID: id, Payload: payload})
	}
	return out, nil
}

func openNode(cfg node.Config, log *zap.Logger) (*node.Node, *store.DB, error) {
	marker, err := cfg.Marker()
	if err != nil {
		return nil, nil, err
	}
	target, err := cfg.TargetBytes()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(cfg.DataDir, cfg.Network)
	if err != nil {
		return nil, nil, err
	}
	n, err := node.NewNode(node.NodeConfig{
		Network:     cfg.Network,
		Target:      target,
		Marker:      marker,
		MaxPeers:    cfg.MaxPeers,
		Whitelisted: cfg.IsWhitelisted,
		DB:          db,
		Logger:      log,
	})
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return n, db, nil
}

func runNode(ctx context.Context, cfg node.Config) error {
	log, err := node.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	n, db, err := openNode(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.BindAddr)
	}
	n.Start(ctx)
	n.Listen(ln)
	log.Info("listening", zap.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range cfg.Peers {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, 10*time.Second)
			defer cancel()
			if _, err := n.Dial(dctx, addr); err != nil {
				log.Warn("bootstrap peer unreachable", zap.String("peer", addr), zap.Error(err))
			}
			return nil
		})
	}
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(n.Metrics().Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return n.Stop()
	})
	g.Go(n.Wait)

	err = g.Wait()
	tip := n.BestBlockHash()
	log.Info("node stopped",
		zap.Uint64("height", n.BlockCount()),
		zap.String("tip", hex.EncodeToString(tip[:])))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func mineBlocks(ctx context.Context, cfg node.Config, count int, commitments []consensus.Commitment, stdout io.Writer) error {
	log, err := node.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	n, db, err := openNode(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	n.Start(ctx)
	defer func() { _ = n.Stop() }()

	m, err := node.NewMiner(n, node.MinerConfig{Commitments: commitments})
	if err != nil {
		return err
	}
	mined, err := m.MineN(ctx, count)
	for _, b := range mined {
		_, _ = fmt.Fprintf(stdout, "mined: height=%d hash=%x timestamp=%d nonce=%d tx_count=%d\n",
			b.Height, b.Hash, b.Timestamp, b.Nonce, b.TxCount)
	}
	if err != nil {
		return &exitError{code: 1, err: errors.Wrap(err, "mining failed")}
	}
	return nil
}

func printConfig(w io.Writer, cfg node.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
