package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plcweb/console/internal/jsonrpc"
	"github.com/plcweb/console/internal/protocol"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the console version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "plcweb %s (JSON-RPC %s, request limit %d/%d bytes)\n",
			Version, jsonrpc.Version, protocol.MaxRequestSizeFor(1.0), protocol.MaxRequestSizeFor(2.0))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
