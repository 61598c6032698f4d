package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AIDilloBot/trustgate/internal/server"
)

var (
	serveAddr   string
	serveConfig string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:7477", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to security config YAML (default ~/.trustgate/config.yaml)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the trust boundary HTTP server",
	Long: "Runs trustgate as a local HTTP service for gateway processes.\n" +
		"Exposes the gate, output filter, and device pairing endpoints.\n" +
		"Supports hot-reload of the config and pattern files.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := serveConfig
	if cfgPath == "" {
		cfgPath = defaultConfigPath()
	}

	srv, err := server.New(server.Config{
		Addr:       serveAddr,
		ConfigPath: cfgPath,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	reloader, err := server.NewReloader(srv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if reloader != nil {
		go reloader.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
		srv.Shutdown(context.Background())
	}()

	fmt.Fprintf(os.Stderr, "trustgate listening on %s (hot-reload enabled)\n", serveAddr)
	return srv.Serve()
}
