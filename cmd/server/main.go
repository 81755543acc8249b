package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/habitpulse/internal/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "habitpulse",
		Short:         "HabitPulse - habit tracking with real-time updates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// --config 覆盖环境变量 CONFIG_FILE
			if path := strings.TrimSpace(opts.configFile); path != "" {
				return os.Setenv("CONFIG_FILE", path)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newRecomputeCommand())
	cmd.AddCommand(newHousekeepingCommand())
	cmd.AddCommand(newCreateUserCommand())
	cmd.AddCommand(newSeedCommand())

	return cmd
}

// loadApp 读取配置并初始化共享组件，调用方负责 Close
func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(cfg)
}
