// Bridge connects line-oriented game-server admin consoles to a NATS
// message bus, with optional chat-bot roles on the bus side.
//
// Usage:
//
//	bridge econ         Console bridge: console lines out, commands in
//	bridge handler      Regex transformer between bus subjects
//	bridge bot-reader   Deliver bus messages to chats
//	bridge bot-writer   Publish chat messages to the bus
//
// Every role reads one YAML config selected with -c/--config
// (default config.yaml). A missing config file is generated from the
// role's built-in default and the process exits cleanly so the
// operator can edit it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teeworlds-nats/bridge/internal/bot"
	"github.com/teeworlds-nats/bridge/internal/bridge"
	"github.com/teeworlds-nats/bridge/internal/config"
	"github.com/teeworlds-nats/bridge/internal/handler"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "bridge",
		Short:         "Bridge between game-server consoles, NATS, and chat bots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the role config file")

	rootCmd.AddCommand(
		econCommand(),
		handlerCommand(),
		botReaderCommand(),
		botWriterCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, config.ErrDefaultWritten) {
			fmt.Fprintf(os.Stderr, "wrote default config to %s, edit it and run again\n", configPath)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func econCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "econ",
		Short: "Run the console-bridge role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadEcon(configPath)
			if err != nil {
				return err
			}
			return runRole(cfg.Logging, func(ctx context.Context, logger *slog.Logger) error {
				return bridge.Run(ctx, cfg, logger)
			})
		},
	}
}

func handlerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "handler",
		Short: "Run the regex transformer role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadHandler(configPath)
			if err != nil {
				return err
			}
			return runRole(cfg.Logging, func(ctx context.Context, logger *slog.Logger) error {
				return handler.Run(ctx, cfg, logger)
			})
		},
	}
}

func botReaderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bot-reader",
		Short: "Run the bus-to-chat role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadBots(configPath, "bot-reader")
			if err != nil {
				return err
			}
			return runRole(cfg.Logging, func(ctx context.Context, logger *slog.Logger) error {
				return bot.RunReader(ctx, cfg, logger)
			})
		},
	}
}

func botWriterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bot-writer",
		Short: "Run the chat-to-bus role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadBots(configPath, "bot-writer")
			if err != nil {
				return err
			}
			return runRole(cfg.Logging, func(ctx context.Context, logger *slog.Logger) error {
				return bot.RunWriter(ctx, cfg, logger)
			})
		},
	}
}

// runRole sets up logging and signal-driven cancellation around one
// role's main loop.
func runRole(logging string, run func(ctx context.Context, logger *slog.Logger) error) error {
	logger := config.NewLogger(logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
