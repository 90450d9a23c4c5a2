package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"trustkv/pkg/affinity"
	"trustkv/pkg/client"
	"trustkv/pkg/config"
	"trustkv/pkg/server"
	"trustkv/pkg/types"
	"trustkv/pkg/wire"
	"trustkv/pkg/workload"
)

func TestParseSeed(t *testing.T) {
	seed, err := parseSeed(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("parseSeed: %v", err)
	}
	if seed[0] != 0xab || seed[31] != 0xab {
		t.Fatalf("seed = %x", seed)
	}
	if _, err := parseSeed("abcd"); err == nil {
		t.Fatal("short seed must be rejected")
	}
	if _, err := parseSeed(strings.Repeat("zz", 32)); err == nil {
		t.Fatal("non-hex seed must be rejected")
	}
}

func TestPad_OnlyBinary(t *testing.T) {
	ops := []wire.Operation{wire.Read(types.Int(1))}

	b := &bench{codec: wire.JSONCodec{}, batch: 4}
	if got := b.pad(ops); len(got) != 1 {
		t.Fatalf("json batch padded to %d", len(got))
	}

	b = &bench{codec: wire.BinaryCodec{OpsPerReq: 4}, batch: 4}
	if got := b.pad(ops); len(got) != 4 {
		t.Fatalf("binary batch padded to %d, want 4", len(got))
	}
}

func TestWaves_AgainstServer(t *testing.T) {
	for _, protocol := range []string{wire.ProtocolJSON, wire.ProtocolBinary} {
		t.Run(protocol, func(t *testing.T) {
			cfg := config.Default().Server
			cfg.Addr = "127.0.0.1:0"
			cfg.Protocol = protocol

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			srv, err := server.New(cfg, server.WithCores(4), server.WithPinner(affinity.Noop()), server.WithLogger(logger))
			if err != nil {
				t.Fatalf("server.New: %v", err)
			}
			if err := srv.Listen(); err != nil {
				t.Fatalf("Listen: %v", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- srv.Run(ctx) }()

			w, err := workload.Preset(workload.Exchange, 2, 8)
			if err != nil {
				t.Fatalf("Preset: %v", err)
			}
			w.OpsPerRequest = 3
			codec, err := wire.NewCodec(protocol, w.OpsPerRequest)
			if err != nil {
				t.Fatalf("NewCodec: %v", err)
			}

			addr := srv.Addr().String()
			hs := wire.Handshake{
				ClientThreads: w.Threads,
				ServerThreads: 2,
				OpsPerReq:     w.OpsPerRequest,
				Capacity:      w.Capacity(),
				KeyType:       types.Int(0),
				ValueType:     types.Int(0),
			}
			if err := client.SendHandshake(ctx, addr, hs); err != nil {
				t.Fatalf("SendHandshake: %v", err)
			}

			streams := []*workload.Stream{w.Stream(0), w.Stream(1)}
			b := &bench{addr: addr, codec: codec, batch: w.OpsPerRequest, ioTimeout: 5 * time.Second, logger: logger}

			prefill, err := b.wave(ctx, streams, (*workload.Stream).NextPrefill)
			if err != nil {
				t.Fatalf("prefill wave: %v", err)
			}
			if got := prefill.ops.Load(); got != int64(2*w.PrefillPerThread()) {
				t.Fatalf("prefill ops = %d, want %d", got, 2*w.PrefillPerThread())
			}
			if prefill.failures.Load() != 0 {
				t.Fatalf("prefill had %d failures", prefill.failures.Load())
			}

			work, err := b.wave(ctx, streams, (*workload.Stream).Next)
			if err != nil {
				t.Fatalf("work wave: %v", err)
			}
			if got := work.ops.Load(); got != int64(2*w.OpsPerThread()) {
				t.Fatalf("work ops = %d, want %d", got, 2*w.OpsPerThread())
			}

			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("server: %v", err)
				}
			case <-ctx.Done():
				t.Fatal("server did not finish the experiment")
			}
		})
	}
}
