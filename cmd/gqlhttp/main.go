package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gqlhttp",
		Short:        "GraphQL over HTTP binding layer",
		Long:         "gqlhttp serves GraphQL over HTTP in front of an upstream GraphQL server and validates operations against a local schema.",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newCompileSDLCmd())
	return root
}
