package cmds

import (
	"context"
	"os"
	"path/filepath"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/fr8chat/pkg/assembler"
	"github.com/go-go-golems/fr8chat/pkg/chatrunner"
	"github.com/go-go-golems/fr8chat/pkg/config"
	"github.com/go-go-golems/fr8chat/pkg/redisstream"
	"github.com/go-go-golems/fr8chat/pkg/render"
)

// App carries what the root command loaded for its subcommands.
type App struct {
	Settings config.Settings
}

// Load reconfigures logging from the parsed flags and decodes settings for cmd.
func (a *App) Load(cmd *cobra.Command) error {
	if err := clay.InitLogger(); err != nil {
		return err
	}
	s, err := config.Decode(viper.GetViper(), cmd.Flags())
	if err != nil {
		return err
	}
	a.Settings = s
	return nil
}

// sessionOptions are the bits of a chat run that differ between commands.
type sessionOptions struct {
	mode     string
	output   string
	stats    bool
	stream   bool
	prompt   string
	settings config.Settings
}

func (o *sessionOptions) addFlags(cmd *cobra.Command, defaultMode chatrunner.RunMode) {
	cmd.Flags().StringVar(&o.mode, "mode", string(defaultMode), "Run mode: chat, blocking or interactive")
	cmd.Flags().StringVarP(&o.output, "output", "o", string(render.FormatText), "Blocking output: text, markdown, json or yaml")
	cmd.Flags().BoolVar(&o.stats, "stats", false, "Print token, line and byte counts of the answer")
	cmd.Flags().BoolVar(&o.stream, "stream", false, "Echo the answer to stderr while it arrives")
}

// runSession wires transport, bus and output and runs the chat runner.
func (a *App) runSession(ctx context.Context, transport assembler.Transport, o sessionOptions) error {
	mode, err := chatrunner.ParseRunMode(o.mode)
	if err != nil {
		return err
	}
	format, err := render.ParseFormat(o.output)
	if err != nil {
		return err
	}

	// The terminal UI owns the screen, so logs go to a file.
	if mode != chatrunner.RunModeBlocking && viper.GetString("log-file") == "" {
		file := filepath.Join(os.TempDir(), config.AppName+".log")
		viper.Set("log-file", file)
		if err := clay.InitLogger(); err != nil {
			return err
		}
		log.Debug().Str("file", file).Msg("logging to file while the UI runs")
	}

	s := o.settings
	if s.Redis.Enabled {
		if err := redisstream.EnsureGroupAtTail(ctx, s.Redis.Addr, s.Redis.Topic, s.Redis.Group, log.Logger); err != nil {
			return err
		}
	}
	bus, err := redisstream.Build(s.Redis, log.Logger)
	if err != nil {
		return errors.Wrap(err, "set up record bus")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Msg("closing record bus")
		}
	}()

	styled := format == render.FormatText && isatty.IsTerminal(os.Stdout.Fd())
	builder := chatrunner.NewChatBuilder().
		WithContext(ctx).
		WithTransport(transport).
		WithSettings(s).
		WithBus(bus).
		WithMode(mode).
		WithPrompt(o.prompt).
		WithOutput(format, styled, render.TerminalWidth(os.Stdout, render.DefaultWidth)).
		WithStats(o.stats)
	if o.stream {
		builder = builder.WithProgressWriter(os.Stderr)
	}

	session, err := builder.Build()
	if err != nil {
		return err
	}
	return session.Run()
}
