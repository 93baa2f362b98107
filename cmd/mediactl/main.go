package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	_ = godotenv.Load()
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the mediactl command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mediactl",
		Short: "Media pipeline CLI",
		Long: `Command line access to the media pipeline.

Commands run in-process against the backends named by MEDIA_* environment
variables, or against a running media server with --server.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("server", "", "media server base URL (remote mode)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewValidateCommand())
	rootCmd.AddCommand(NewUploadCommand())
	rootCmd.AddCommand(NewResolveCommand())
	rootCmd.AddCommand(NewBackfillCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	return rootCmd
}
