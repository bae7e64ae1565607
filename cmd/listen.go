package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sowback/sowback/config"
	"github.com/sowback/sowback/server"
	"github.com/sowback/sowback/tools"
)

var (
	logFile    string
	configFile string

	listenBind  string
	listenToken string
	listenName  string
)

var listenCmd = &cobra.Command{
	Use:   "listen [address]",
	Short: "Run the public-facing tunnel server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if path == "" {
			path = tools.GetenvDefault(config.EnvPrefix+"CONFIG", "")
		}

		cfg, err := config.LoadServerConfig(path)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			cfg.ListenAddr = args[0]
		}
		if listenBind != "" {
			cfg.BindHost = listenBind
		}
		if listenToken != "" {
			cfg.Token = listenToken
		}
		if listenName != "" {
			cfg.Name = listenName
		}
		if logFile != "" {
			cfg.LogFile = logFile
		}
		configureLogOutput(cfg.LogFile)

		if err := cfg.Validate(); err != nil {
			return newArgumentError(err.Error())
		}

		srv, err := server.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info().Msg("starting sowback listen")
		return srv.Start(ctx)
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenBind, "bind", "", "Address to bind the listener to (overrides bind_host)")
	listenCmd.Flags().StringVar(&listenToken, "token", "", "Shared authentication token")
	listenCmd.Flags().StringVar(&listenName, "name", "", "Name to identify this server instance in logs")
}
