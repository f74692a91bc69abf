package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve published catalogs over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := serveAddr
		if addr == "" {
			addr = AC.Config.Server.ListenAddr()
		}

		if !AC.Config.Storage.Signing() {
			fmt.Println("⚠️  No signing credentials configured, catalog requests will return 204")
		}

		// Graceful Shutdown
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("🚀 Listening at: http://%s\n", addr)
		if err := AC.Server().Run(ctx, addr); err != nil {
			return err
		}
		fmt.Println("👋 Server stopped.")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.addr:server.port)")
	rootCmd.AddCommand(serveCmd)
}
