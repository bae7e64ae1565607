// Package cmd implements the sowback command-line interface: the listen
// (server) and connect (client) subcommands, config loading, and the
// exit-code contract the two share.
package cmd

import (
	"errors"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"

	verbose bool

	rootCmd = &cobra.Command{
		Use:   "sowback",
		Short: "A reverse TCP tunnel for exposing services behind NAT",
		Args:  cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setLogLevel()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
)

// argumentError marks a failure in flag/argument validation so Execute can
// map it to exit code 2, distinct from the runtime/config failures that
// exit 1.
type argumentError struct {
	err error
}

func (e *argumentError) Error() string { return e.err.Error() }
func (e *argumentError) Unwrap() error { return e.err }

func newArgumentError(msg string) error {
	return &argumentError{err: errors.New(msg)}
}

// Execute runs the CLI and exits the process with the contract's exit
// code: 0 on graceful shutdown, 1 on a fatal config/bind error, 2 on a
// bad argument.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var argErr *argumentError
	if errors.As(err, &argErr) {
		log.Error().Err(err).Msg("invalid arguments")
		os.Exit(2)
	}

	log.Error().Err(err).Msg("fatal error")
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&logFile, "log", "l", "", "Log file path (default stderr)")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path of TOML config file")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(connectCmd)

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &argumentError{err: err}
	})
	for _, c := range append([]*cobra.Command{rootCmd}, rootCmd.Commands()...) {
		validate := c.Args
		c.Args = func(cmd *cobra.Command, args []string) error {
			if err := validate(cmd, args); err != nil {
				return &argumentError{err: err}
			}
			return nil
		}
	}
}

func setLogLevel() {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// configureLogOutput adds path as a second log destination alongside the
// console writer main's init sets up, so file logging is additive rather
// than a replacement. Called once a config file's log_file key (and any
// --log override) has been resolved, which PersistentPreRun runs too
// early to see.
func configureLogOutput(path string) {
	if path == "" {
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("log_file", path).Msg("failed to open log file, falling back to stderr")
		return
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: zerolog.TimeFormatUnix}
	log.Logger = log.Output(zerolog.MultiLevelWriter(console, f))
}
