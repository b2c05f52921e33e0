// Command apmz-replay runs a YAML trace scenario through the apmz core and
// prints the processed trace as JSON.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoobzio/apmz"
	"github.com/zoobzio/apmz/internal/replay"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		pretty     bool
	)

	cmd := &cobra.Command{
		Use:   "apmz-replay <scenario.yaml>",
		Short: "Replay a scripted trace and print what the processor receives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}

			logger, err := apmz.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			sc, err := replay.Load(args[0])
			if err != nil {
				return err
			}

			result, err := replay.Run(cmd.Context(), sc, cfg, logger)
			if err != nil {
				return err
			}
			logger.Debug("replay finished",
				zap.String("trace", result.TraceID),
				zap.Bool("broken", result.Broken))

			var out []byte
			if pretty {
				out, err = json.MarshalIndent(result, "", "  ")
			} else {
				out, err = json.Marshal(result)
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "agent config file (YAML); APMZ_* variables override it")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error), overrides the config")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	return cmd
}

// loadConfig reads path, or only the environment when path is empty.
func loadConfig(path string) (*apmz.Config, error) {
	if path == "" {
		return apmz.Load()
	}
	return apmz.LoadFile(path)
}
