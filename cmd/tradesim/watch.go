package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gregtusar/tradesim/pkg/client"
)

func newWatchCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the event stream of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if server == "" {
				server = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stream := client.NewStreamClient(server, logger)
			stream.RegisterHandler("*", printEvent("event"))
			stream.RegisterHandler("snapshot", printEvent("snapshot"))
			stream.RegisterHandler("price.tick", printEvent("tick"))
			stream.RegisterHandler("position.placed", printEvent("placed"))
			stream.RegisterHandler("position.resolved", printEvent("resolved"))

			if err := stream.Connect(ctx); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return stream.Close()
			case <-stream.Done():
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server base URL (default http://localhost:<server.port>)")
	return cmd
}

func printEvent(label string) client.MessageHandler {
	return func(payload json.RawMessage) error {
		_, err := fmt.Fprintf(os.Stdout, "%-9s %s\n", label, payload)
		return err
	}
}
