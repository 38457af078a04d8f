// Package main provides the obw CLI entry point.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openbench/obwizard/internal/config"
)

// Version is set at build time via ldflags
var Version = "dev"

// verbose enables debug logging on stderr
var verbose bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "obw",
	Short: "Remote execution and sync toolkit for OpenBench",
	Long: `obw manages remote OpenBench evaluations over SSH.

It verifies host keys on first use, stores connection credentials
encrypted under ~/.openbench_wizard, synchronizes project files against
a remote directory through a local cache, and runs evaluations on the
remote host while streaming their output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	_ = godotenv.Load()
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Version = Version
}

// cliLogger builds the logger handed to the internal packages. Quiet by
// default; --verbose turns on a console writer on stderr.
func cliLogger() zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(writer).With().Timestamp().Logger()
}

// configDir resolves and creates the wizard config directory.
func configDir() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	if err := config.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}
