package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"trustkv/pkg/client"
	"trustkv/pkg/types"
	"trustkv/pkg/wire"
	"trustkv/pkg/workload"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kvbench:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kvbench",
		Short:         "kvbench drives one trustkv experiment: handshake, prefill wave and work wave",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          run,
	}

	flags := cmd.Flags()
	flags.String("addr", "127.0.0.1:7879", "trustkv address")
	flags.String("protocol", wire.ProtocolJSON, "encoding: json or binary")
	flags.String("workload", string(workload.ReadHeavy), "preset: ReadHeavy, Exchange or RapidGrow")
	flags.Int("threads", 1, "client threads (connections per wave)")
	flags.Int("trustees", 1, "shard owners requested from the server")
	flags.Uint8("capacity-log2", workload.DefaultCapLog2, "initial capacity as a power of two")
	flags.Float64("prefill", -1, "prefill fraction of the capacity (negative keeps the preset)")
	flags.Float64("ops", workload.DefaultOpsFactor, "measured operations as a multiple of the capacity")
	flags.Int("batch", workload.DefaultOpsStretch, "operations per request")
	flags.String("seed", "", "64 hex digits; makes single-threaded runs deterministic")
	flags.Duration("io-timeout", 30*time.Second, "per-request timeout (0 disables)")
	flags.String("log-level", "info", "log level")
	flags.Bool("log-json", false, "log as JSON")

	flags.VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})
	viper.SetEnvPrefix("KVBENCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return cmd
}

func buildWorkload() (workload.Workload, error) {
	kind, err := workload.ParseKind(viper.GetString("workload"))
	if err != nil {
		return workload.Workload{}, err
	}
	w, err := workload.Preset(kind, viper.GetInt("threads"), uint8(viper.GetUint("capacity-log2")))
	if err != nil {
		return workload.Workload{}, err
	}
	if p := viper.GetFloat64("prefill"); p >= 0 {
		w.PrefillFraction = p
	}
	w.OpsFactor = viper.GetFloat64("ops")
	w.OpsPerRequest = viper.GetInt("batch")

	if s := strings.TrimSpace(viper.GetString("seed")); s != "" {
		seed, err := parseSeed(s)
		if err != nil {
			return workload.Workload{}, err
		}
		w.Seed = &seed
	}
	return w, w.Validate()
}

func parseSeed(s string) ([32]byte, error) {
	var seed [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return seed, fmt.Errorf("parse seed: %w", err)
	}
	if len(raw) != len(seed) {
		return seed, fmt.Errorf("parse seed: want %d bytes, got %d", len(seed), len(raw))
	}
	copy(seed[:], raw)
	return seed, nil
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := initLogger(viper.GetString("log-level"), viper.GetBool("log-json"))

	w, err := buildWorkload()
	if err != nil {
		return err
	}
	protocol := viper.GetString("protocol")
	codec, err := wire.NewCodec(protocol, w.OpsPerRequest)
	if err != nil {
		return err
	}

	addr := viper.GetString("addr")
	hs := wire.Handshake{
		ClientThreads: w.Threads,
		ServerThreads: viper.GetInt("trustees"),
		OpsPerReq:     w.OpsPerRequest,
		Capacity:      w.Capacity(),
		KeyType:       types.Int(0),
		ValueType:     types.Int(0),
	}
	if err := client.SendHandshake(ctx, addr, hs); err != nil {
		return err
	}
	logger.Info("handshake sent",
		"addr", addr,
		"protocol", protocol,
		"mix", w.Mix.String(),
		"threads", w.Threads,
		"trustees", hs.ServerThreads,
		"capacity", humanize.Comma(int64(w.Capacity())),
	)

	streams := make([]*workload.Stream, w.Threads)
	for i := range streams {
		streams[i] = w.Stream(i)
	}

	b := &bench{
		addr:      addr,
		codec:     codec,
		batch:     w.OpsPerRequest,
		ioTimeout: viper.GetDuration("io-timeout"),
		logger:    logger,
	}

	prefill, err := b.wave(ctx, streams, (*workload.Stream).NextPrefill)
	if err != nil {
		return fmt.Errorf("prefill wave: %w", err)
	}
	prefill.log(logger, "prefill")

	work, err := b.wave(ctx, streams, (*workload.Stream).Next)
	if err != nil {
		return fmt.Errorf("work wave: %w", err)
	}
	work.log(logger, "work")
	return nil
}

type bench struct {
	addr      string
	codec     wire.Codec
	batch     int
	ioTimeout time.Duration
	logger    *slog.Logger
}

type waveStats struct {
	ops      atomic.Int64
	failures atomic.Int64
	batches  atomic.Int64
	latency  atomic.Int64
	maxBatch atomic.Int64
	elapsed  time.Duration
}

func (s *waveStats) observe(d time.Duration) {
	s.batches.Add(1)
	s.latency.Add(int64(d))
	for {
		cur := s.maxBatch.Load()
		if int64(d) <= cur || s.maxBatch.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

func (s *waveStats) log(logger *slog.Logger, wave string) {
	ops := s.ops.Load()
	batches := max(s.batches.Load(), 1)
	logger.Info("wave finished",
		"wave", wave,
		"operations", humanize.Comma(ops),
		"failures", humanize.Comma(s.failures.Load()),
		"elapsed", s.elapsed.Round(time.Millisecond).String(),
		"throughput", humanize.SIWithDigits(float64(ops)/s.elapsed.Seconds(), 2, "op/s"),
		"avg_batch_latency", time.Duration(s.latency.Load()/batches).String(),
		"max_batch_latency", time.Duration(s.maxBatch.Load()).String(),
	)
}

// wave opens one connection per stream, drains next on each and closes them.
// Every connection is opened even when its stream has nothing to send: the
// server waits for the full wave.
func (b *bench) wave(ctx context.Context, streams []*workload.Stream, next func(*workload.Stream, int) []wire.Operation) (*waveStats, error) {
	conns := make([]*client.Conn, len(streams))
	for i := range conns {
		c, err := client.Dial(ctx, b.addr, b.codec, client.WithIOTimeout(b.ioTimeout))
		if err != nil {
			for _, opened := range conns[:i] {
				_ = opened.Abort()
			}
			return nil, err
		}
		conns[i] = c
	}

	stats := &waveStats{}
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i, st := range streams {
		c := conns[i]
		g.Go(func() error {
			defer c.Close()
			for gctx.Err() == nil {
				ops := next(st, b.batch)
				if ops == nil {
					return nil
				}
				n := len(ops)
				ops = b.pad(ops)

				t0 := time.Now()
				results, err := c.Do(ops)
				if err != nil {
					return err
				}
				stats.observe(time.Since(t0))

				for _, r := range results[:n] {
					if !r.OK {
						stats.failures.Add(1)
					}
				}
				stats.ops.Add(int64(n))
			}
			return gctx.Err()
		})
	}

	err := g.Wait()
	stats.elapsed = time.Since(start)
	return stats, err
}

// pad fills a short final batch with reads; the binary protocol only accepts full batches.
func (b *bench) pad(ops []wire.Operation) []wire.Operation {
	if b.codec.Name() != wire.ProtocolBinary {
		return ops
	}
	for len(ops) < b.batch {
		ops = append(ops, wire.Read(types.Int(0)))
	}
	return ops
}
