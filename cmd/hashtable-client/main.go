// Command hashtable-client submits a scripted sequence of operations to
// a running hashtable-server and prints the results.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drgolem/shm-hashtable/internal/client"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:   "hashtable-client <client_id> (insert K V | delete K | read K)*",
		Short: "Submit scripted read/insert/delete operations to hashtable-server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(args[0], args[1:])
		},
		SilenceUsage: true,
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func submit(clientID string, tokens []string) error {
	ops, err := client.ParseOperations(tokens)
	if err != nil {
		return fmt.Errorf("parsing operations: %w", err)
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	driver, err := client.Connect(clientID, log)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}

	driver.Run(ops)
	return nil
}
