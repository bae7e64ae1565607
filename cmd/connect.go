package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sowback/sowback/client"
	"github.com/sowback/sowback/config"
	"github.com/sowback/sowback/tools"
)

var (
	connectToken    string
	connectName     string
	connectServices []string
)

var connectCmd = &cobra.Command{
	Use:   "connect [server]...",
	Short: "Connect to a sowback server and expose local services through it",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if path == "" {
			path = tools.GetenvDefault(config.EnvPrefix+"CONFIG", "")
		}

		cfg, err := config.LoadClientConfig(path)
		if err != nil {
			return err
		}

		if len(args) > 0 {
			cfg.Servers = args
		}
		if connectToken != "" {
			cfg.Token = connectToken
		}
		if connectName != "" {
			cfg.Name = connectName
		}
		if len(connectServices) > 0 {
			cfg.Services = connectServices
		}
		if logFile != "" {
			cfg.LogFile = logFile
		}
		configureLogOutput(cfg.LogFile)

		if err := cfg.Validate(); err != nil {
			return newArgumentError(err.Error())
		}

		c, err := client.New(cfg)
		if err != nil {
			return newArgumentError(err.Error())
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info().Msg("starting sowback connect")
		return c.Start(ctx)
	},
}

func init() {
	connectCmd.Flags().StringVar(&connectToken, "token", "", "Shared authentication token")
	connectCmd.Flags().StringVar(&connectName, "name", "", "Name to identify this client instance in logs")
	connectCmd.Flags().StringSliceVarP(&connectServices, "service", "s", nil, "Service to expose as local_ip:local_port:remote_port (repeatable)")
}
