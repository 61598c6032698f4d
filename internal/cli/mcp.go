package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	trustmcp "github.com/AIDilloBot/trustgate/internal/mcp"
)

var mcpConfig string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpConfig, "config", "", "Path to security config YAML (default ~/.trustgate/config.yaml)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs trustgate as an MCP (Model Context Protocol) server over stdio.\nExposes the gate, output filter, skill verifier, and audit tail as tools.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfgPath := mcpConfig
	if cfgPath == "" {
		cfgPath = defaultConfigPath()
	}

	srv, err := trustmcp.New(trustmcp.Config{ConfigPath: cfgPath})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "trustgate MCP server running on stdio")
	return srv.Run(ctx)
}
