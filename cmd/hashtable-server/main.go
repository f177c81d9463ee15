// Command hashtable-server hosts the concurrent hash table and pumps
// requests from each client's shared-memory segment through it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drgolem/shm-hashtable/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	var verbose bool

	root := &cobra.Command{
		Use:   "hashtable-server <bucket_size> <clients> <threads>",
		Short: "Serve a concurrent hash table over shared-memory client queues",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parseConfig(args)
			if err != nil {
				return err
			}

			log, err := newLogger(verbose)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer log.Sync()

			return serve(cfg, log)
		},
		SilenceUsage: true,
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func parseConfig(args []string) (server.Config, error) {
	bucketSize, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return server.Config{}, fmt.Errorf("invalid bucket_size %q: %w", args[0], err)
	}
	clients, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return server.Config{}, fmt.Errorf("invalid clients %q: %w", args[1], err)
	}
	threads, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return server.Config{}, fmt.Errorf("invalid threads %q: %w", args[2], err)
	}

	return server.Config{BucketSize: bucketSize, Clients: clients, Threads: threads}, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

func serve(cfg server.Config, log *zap.Logger) error {
	dispatcher, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("server started, use Ctrl-C to stop",
		zap.Uint64("bucket_size", cfg.BucketSize),
		zap.Uint64("clients", cfg.Clients),
		zap.Uint64("threads", cfg.Threads),
	)

	runErr := dispatcher.Run(ctx)

	log.Info("shutting down")
	if err := dispatcher.Shutdown(); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}

	return runErr
}
