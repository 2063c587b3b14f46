package cmds

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/fr8chat/pkg/redisstream"
)

func NewTailCommand(app *App) *cobra.Command {
	var (
		asJSON   bool
		group    string
		consumer string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the records other fr8chat sessions publish to Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := app.Settings.Redis
			if !s.Enabled {
				return errors.New("tail reads from Redis, pass --redis-enabled")
			}
			s.Group = group
			s.Consumer = consumer

			ctx := cmd.Context()
			if err := redisstream.EnsureGroupAtTail(ctx, s.Addr, s.Topic, s.Group, log.Logger); err != nil {
				return err
			}
			bus, err := redisstream.Build(s, log.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			out := cmd.OutOrStdout()
			return redisstream.Tail(ctx, bus.Subscriber, bus.Topic, log.Logger, func(env redisstream.Envelope) error {
				return printEnvelope(out, env, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON envelope per line")
	cmd.Flags().StringVar(&group, "group", "fr8chat-tail", "Consumer group, separate from the chat UI's")
	cmd.Flags().StringVar(&consumer, "consumer", "tail-1", "Consumer name")
	return cmd
}

func printEnvelope(w io.Writer, env redisstream.Envelope, asJSON bool) error {
	if asJSON {
		b, err := json.Marshal(env)
		if err != nil {
			return errors.Wrap(err, "encode envelope")
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	}
	_, err := fmt.Fprintf(w, "%s %s #%d %-5s %s\n", env.SessionID, env.TurnID, env.Seq, env.Event, env.Data)
	return err
}
