// Command server runs the todoapi service.
//
// Subcommands:
//
//	serve    run the HTTP API
//	useradd  create a user in the configured store
//	version  print the build version
//
// Configuration comes from a YAML file (--config, TODOAPI_CONFIG,
// ./config.yaml or /etc/todoapi/config.yaml) overlaid by TODOAPI_*
// environment variables.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootOptions holds flags shared by all subcommands.
type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("todoapi failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "todoapi",
		Short:         "todoapi - authenticated todo list service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newUserAddCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "todoapi %s\n", version)
			return err
		},
	}
}
