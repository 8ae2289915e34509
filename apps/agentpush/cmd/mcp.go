package cmd

import (
	"github.com/spf13/cobra"

	"github.com/slush-dev/agentpush/apps/agentpush/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP (Model Context Protocol) server on stdio",
	Long: `Start an MCP server that exposes agent records and call invites as tools
and resources for LLM integration.

The server communicates via JSON-RPC over stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		s := mcpserver.New(mcpserver.Options{
			UserID:  svc.cfg.UserID,
			Sync:    svc.sync,
			Tokens:  svc.push,
			Version: rootCmd.Version,
			Logger:  svc.logger,
		})
		return s.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
