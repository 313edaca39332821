package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/chatrelay/internal/chat"
	"github.com/danmuck/chatrelay/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type flagValues struct {
	configPath string
	addr       string
	adminAddr  string
	wsAddr     string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chatd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags flagValues
	cmd := &cobra.Command{
		Use:           "chatd",
		Short:         "Line-oriented chat relay server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cfg.LogLevel != "" && !logging.SetLevel(cfg.LogLevel) {
				log.Warn().Str("level", cfg.LogLevel).Msg("chatd unknown log level ignored")
			}
			return chat.NewServiceWithConfig(cfg.Service).Run()
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "config file (.toml, .yaml, .yml)")
	cmd.Flags().StringVar(&flags.addr, "addr", "", "chat listen address (default :9001)")
	cmd.Flags().StringVar(&flags.adminAddr, "admin-addr", "", "admin HTTP listen address (disabled when empty)")
	cmd.Flags().StringVar(&flags.wsAddr, "ws-addr", "", "WebSocket gateway listen address (disabled when empty)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "trace|debug|info|warn|error|off")
	return cmd
}

// resolveConfig layers defaults, then the config file, then explicitly set flags.
func resolveConfig(cmd *cobra.Command, flags flagValues) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if path := strings.TrimSpace(flags.configPath); path != "" {
		loaded, err := loadRuntimeConfig(path)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("addr") {
		cfg.Service.ListenAddr = strings.TrimSpace(flags.addr)
	}
	if cmd.Flags().Changed("admin-addr") {
		cfg.Service.AdminListenAddr = strings.TrimSpace(flags.adminAddr)
	}
	if cmd.Flags().Changed("ws-addr") {
		cfg.Service.WSListenAddr = strings.TrimSpace(flags.wsAddr)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = strings.TrimSpace(flags.logLevel)
	}
	cfg.Service = cfg.Service.WithDefaults()
	return cfg, nil
}
