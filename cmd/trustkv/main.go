package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	adminhttp "trustkv/internal/http"
	"trustkv/pkg/affinity"
	"trustkv/pkg/config"
	"trustkv/pkg/metrics"
	"trustkv/pkg/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "trustkv:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "trustkv",
		Short:         "trustkv serves a sharded in-memory key-value store from a thread-per-core worker pool",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # one JSON experiment on the default port
  trustkv

  # binary protocol, spread placement, serve experiments until interrupted
  TRUSTKV_PROTOCOL=binary trustkv --placement spread --rounds 0`,
		RunE: run,
	}

	flags := cmd.Flags()
	flags.String("config", "trustkv.yaml", "path to the YAML config file")
	flags.String("addr", "", "benchmark listen address (default 0.0.0.0:7879)")
	flags.String("protocol", "", "steady-state encoding: json or binary")
	flags.String("dispatch", "", "owner submission mode: lazy or sync (default per protocol)")
	flags.String("storage", "", "shard storage backend: map or skipmap")
	flags.String("mailbox-depth", "", "owner mailbox capacity, e.g. 1024 or 4k")
	flags.String("placement", "", "core placement: compact or spread")
	flags.Int("network-workers", 0, "number of fiber-hosting workers (0 uses every spare core)")
	flags.Int("rounds", 0, "experiments to serve before exiting (0 serves forever)")
	flags.String("admin-addr", "", "admin HTTP listen address (empty disables)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.Bool("log-json", false, "log as JSON")

	flags.VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})
	viper.SetEnvPrefix("TRUSTKV")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return cmd
}

// overlay applies flags and TRUSTKV_* variables on top of the file config.
func overlay(cfg *config.Config) error {
	setString := func(key string, dst *string) {
		if viper.IsSet(key) {
			*dst = strings.TrimSpace(viper.GetString(key))
		}
	}
	setString("addr", &cfg.Server.Addr)
	setString("protocol", &cfg.Server.Protocol)
	setString("dispatch", &cfg.Server.Dispatch)
	setString("storage", &cfg.Server.Storage.Backend)
	setString("placement", &cfg.Server.Placement)
	setString("admin-addr", &cfg.Admin.Addr)
	setString("log-level", &cfg.Logger.Level)

	if viper.IsSet("mailbox-depth") {
		n, err := humanize.ParseBytes(viper.GetString("mailbox-depth"))
		if err != nil {
			return fmt.Errorf("parse mailbox-depth: %w", err)
		}
		cfg.Server.Storage.MailboxDepth = int(n)
	}
	if viper.IsSet("network-workers") {
		cfg.Server.NetworkWorkers = viper.GetInt("network-workers")
	}
	if viper.IsSet("rounds") {
		cfg.Server.Rounds = viper.GetInt("rounds")
	}
	if viper.IsSet("log-json") {
		cfg.Logger.JSON = viper.GetBool("log-json")
	}
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := overlay(&cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := initLogger(&cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheus(reg)

	srv, err := server.New(cfg.Server,
		server.WithLogger(logger),
		server.WithMetrics(collector),
	)
	if err != nil {
		return err
	}
	logger.Info("trustkv starting",
		"cores", affinity.AvailableCores(),
		"storage", cfg.Server.Storage.Backend,
		"mailbox_depth", humanize.Comma(int64(cfg.Server.Storage.MailboxDepth)),
		"rounds", cfg.Server.Rounds,
	)

	if err := srv.Listen(); err != nil {
		return err
	}

	if cfg.Admin.Addr != "" {
		admin := adminhttp.NewServer(srv, reg, cfg.Admin.Addr, logger)
		if err := admin.Start(); err != nil {
			return err
		}
		defer func() {
			if err := admin.Stop(); err != nil {
				logger.Warn("admin server stop", "error", err)
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server failed", "error", err)
		return err
	}
	logger.Info("trustkv stopped")
	return nil
}
