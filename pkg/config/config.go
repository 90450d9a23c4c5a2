package config

import (
	"fmt"
	"strings"

	"trustkv/pkg/dberrors"
)

// Config - корневая структура конфигурации сервера
// yaml и validate теги для парсинга и валидации

type Config struct {
	Logger LoggerConfig `yaml:"logger" validate:"required"`
	Server ServerConfig `yaml:"server" validate:"required"`
	Admin  AdminConfig  `yaml:"admin"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// Protocol selects the steady-state encoding: "json" or "binary".
	Protocol string `yaml:"protocol" validate:"oneof=json binary"`
	// Dispatch selects how a batch is submitted to the owners: "lazy", "sync" or "" (per protocol).
	Dispatch  string        `yaml:"dispatch" validate:"omitempty,oneof=lazy sync"`
	Storage   StorageConfig `yaml:"storage" validate:"required"`
	Placement string        `yaml:"placement" validate:"oneof=compact spread"`
	// NetworkWorkers overrides the number of fiber-hosting workers; 0 takes every spare core.
	NetworkWorkers int `yaml:"network_workers" validate:"min=0"`
	// Rounds is the number of experiments served before exiting; 0 means forever.
	Rounds int `yaml:"rounds" validate:"min=0"`
}

type StorageConfig struct {
	// Backend is "map" (exclusive plain map) or "skipmap" (internally synchronized).
	Backend      string `yaml:"backend" validate:"oneof=map skipmap"`
	MailboxDepth int    `yaml:"mailbox_depth" validate:"required,min=1"`
}

type AdminConfig struct {
	// Addr is the admin HTTP listen address; empty disables it.
	Addr string `yaml:"addr"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Addr:     "0.0.0.0:7879",
			Protocol: "json",
			Storage: StorageConfig{
				Backend:      "map",
				MailboxDepth: 1024,
			},
			Placement: "compact",
			Rounds:    1,
		},
		Admin: AdminConfig{
			Addr: "",
		},
	}
}

// Validate enforces the constraints declared in the validate tags.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.Logger.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("%w: logger.level %q", dberrors.ErrInvalidArgument, c.Logger.Level)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is required", dberrors.ErrInvalidArgument)
	}
	if c.Server.Protocol != "json" && c.Server.Protocol != "binary" {
		return fmt.Errorf("%w: server.protocol %q", dberrors.ErrInvalidArgument, c.Server.Protocol)
	}
	if c.Server.Dispatch != "" && c.Server.Dispatch != "lazy" && c.Server.Dispatch != "sync" {
		return fmt.Errorf("%w: server.dispatch %q", dberrors.ErrInvalidArgument, c.Server.Dispatch)
	}
	if c.Server.Storage.Backend != "map" && c.Server.Storage.Backend != "skipmap" {
		return fmt.Errorf("%w: server.storage.backend %q", dberrors.ErrInvalidArgument, c.Server.Storage.Backend)
	}
	if c.Server.Storage.MailboxDepth < 1 {
		return fmt.Errorf("%w: server.storage.mailbox_depth must be positive", dberrors.ErrInvalidArgument)
	}
	if c.Server.Placement != "compact" && c.Server.Placement != "spread" {
		return fmt.Errorf("%w: server.placement %q", dberrors.ErrInvalidArgument, c.Server.Placement)
	}
	if c.Server.NetworkWorkers < 0 || c.Server.Rounds < 0 {
		return fmt.Errorf("%w: negative worker or round count", dberrors.ErrInvalidArgument)
	}
	return nil
}

// DispatchMode resolves the effective dispatch mode for the configured protocol.
func (s ServerConfig) DispatchMode() string {
	if s.Dispatch != "" {
		return s.Dispatch
	}
	if s.Protocol == "binary" {
		return "sync"
	}
	return "lazy"
}
