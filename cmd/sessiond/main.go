// Command sessiond serves a session store over HTTP.
//
//	sessiond serve --backend sqlite --sqlite-path ./sessions.db --addr :8080
//	sessiond config --config sessiond.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sessiond:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:           "sessiond",
		Short:         "Multi-tenant session and event store server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindFlags(cmd.PersistentFlags(), opts)

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}
