// Command doomcode is the controller CLI: it pairs with a relay
// session, supervises an assistant subprocess, and relays the two
// sides through an end-to-end encrypted channel.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doomcode",
		Short: "Terminal-native remote pairing for coding assistants",
	}
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newConnectCmd())
	return cmd
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
