package config

import (
	"errors"
	"testing"

	"trustkv/pkg/dberrors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"protocol":  func(c *Config) { c.Server.Protocol = "xml" },
		"dispatch":  func(c *Config) { c.Server.Dispatch = "eager" },
		"backend":   func(c *Config) { c.Server.Storage.Backend = "btree" },
		"mailbox":   func(c *Config) { c.Server.Storage.MailboxDepth = 0 },
		"placement": func(c *Config) { c.Server.Placement = "random" },
		"level":     func(c *Config) { c.Logger.Level = "TRACE" },
		"addr":      func(c *Config) { c.Server.Addr = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, dberrors.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestDispatchModeFollowsProtocol(t *testing.T) {
	s := Default().Server
	if got := s.DispatchMode(); got != "lazy" {
		t.Fatalf("json default dispatch = %q, want lazy", got)
	}
	s.Protocol = "binary"
	if got := s.DispatchMode(); got != "sync" {
		t.Fatalf("binary default dispatch = %q, want sync", got)
	}
	s.Dispatch = "lazy"
	if got := s.DispatchMode(); got != "lazy" {
		t.Fatalf("explicit dispatch = %q, want lazy", got)
	}
}
