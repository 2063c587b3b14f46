package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/fr8chat/cmd/fr8chat/cmds"
	"github.com/go-go-golems/fr8chat/pkg/config"
)

var app = &cmds.App{}

var rootCmd = &cobra.Command{
	Use:           "fr8chat",
	Short:         "fr8chat is a terminal client for the freight data chat assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		return app.Load(cmd)
	},
}

func main() {
	config.AddFlags(rootCmd.PersistentFlags())

	err := clay.InitViper(config.AppName, rootCmd)
	cobra.CheckErr(err)
	err = clay.InitLogger()
	cobra.CheckErr(err)

	rootCmd.AddCommand(
		cmds.NewChatCommand(app),
		cmds.NewReplayCommand(app),
		cmds.NewServeMockCommand(),
		cmds.NewTailCommand(app),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = rootCmd.ExecuteContext(ctx)
	stop()
	cobra.CheckErr(err)
}
